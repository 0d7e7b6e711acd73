package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/luckygeck/dedalus/pkg/models"
)

func init() {
	Register("local_file", models.SemVer{Major: 0, Minor: 0, Patch: 1}, func(cfg models.ResourceConfig) Resource {
		return &LocalFileResource{path: cfg.LocalPath}
	})
}

// LocalFileResource reports installed iff its path exists, grounded in
// plugins/resources/local_file.py — its "version" is the file's content
// hash rather than a declared version, so any change to the file counts as
// a reinstall from GetLocalVersion's perspective.
type LocalFileResource struct {
	path string
}

func NewLocalFileResource(path string) *LocalFileResource {
	return &LocalFileResource{path: path}
}

func (r *LocalFileResource) IsInstalled(ctx context.Context) (bool, error) {
	_, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetLocalVersion returns the sha256 hex digest of the file contents,
// grounded in util/filehash.py:get_file_hash (md5 there; sha256 here per
// the teacher's crypto/sha256 convention elsewhere in the stack).
func (r *LocalFileResource) GetLocalVersion(ctx context.Context) (string, error) {
	f, err := os.Open(r.path)
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

// ForceInstall always fails — a local_file resource is expected to already
// be present on the host; there is nothing to fetch.
func (r *LocalFileResource) ForceInstall(ctx context.Context) error {
	return fmt.Errorf("local_file resource %q is not present and cannot be installed remotely", r.path)
}
