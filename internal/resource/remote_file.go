package resource

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/luckygeck/dedalus/pkg/models"
)

func init() {
	Register("remote_file", models.SemVer{Major: 0, Minor: 0, Patch: 1}, func(cfg models.ResourceConfig) Resource {
		return &RemoteFileResource{
			localPath:   cfg.LocalPath,
			remoteURL:   cfg.RemoteURL,
			extractZip:  cfg.ExtractAfterFetch,
			httpClient:  &http.Client{Timeout: 30 * time.Second},
		}
	})
}

// RemoteFileResource downloads remoteURL to localPath if absent, grounded in
// plugins/resources/remote_file.py (urlretrieve) and the teacher's
// HTTPTaskExecutor *http.Client construction idiom (bounded timeout, no
// retries inside the client — internal/retry wraps Ensure() instead).
type RemoteFileResource struct {
	localPath  string
	remoteURL  string
	extractZip bool
	httpClient *http.Client
}

func NewRemoteFileResource(localPath, remoteURL string, extractZip bool) *RemoteFileResource {
	return &RemoteFileResource{
		localPath:  localPath,
		remoteURL:  remoteURL,
		extractZip: extractZip,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *RemoteFileResource) IsInstalled(ctx context.Context) (bool, error) {
	_, err := os.Stat(r.localPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RemoteFileResource) GetLocalVersion(ctx context.Context) (string, error) {
	f, err := os.Open(r.localPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ForceInstall downloads remoteURL to localPath, optionally extracting it
// as a zip archive alongside it (extract_after_download in the original).
func (r *RemoteFileResource) ForceInstall(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.remoteURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", r.remoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("download %s: status %d", r.remoteURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(r.localPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", r.localPath, err)
	}

	out, err := os.Create(r.localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.localPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", r.localPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.localPath, err)
	}

	if r.extractZip {
		if err := extractZipArchive(r.localPath, filepath.Dir(r.localPath)); err != nil {
			return fmt.Errorf("extract %s: %w", r.localPath, err)
		}
	}
	return nil
}

func extractZipArchive(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		dest := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, f.Mode()); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(out, src)
		src.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
