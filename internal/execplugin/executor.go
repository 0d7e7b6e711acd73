// Package execplugin implements the Executor plugin contract from spec.md
// §4.8: start() yields a line stream, ping() reports liveness, kill()
// terminates. One built-in kind, shell, grounded in the teacher's
// executor.BashTaskExecutor (exec.CommandContext("bash", "-c", ...), stdout/
// stderr capture idiom) and in original_source's plugins/executors/shell.py
// for the three-method contract. Unlike the teacher's synchronous
// run-to-completion BashTaskExecutor, this spec needs Start to return a
// live line stream — so ShellExecutor launches the subprocess with pipes
// and a goroutine fan-in onto one channel of Line values.
package execplugin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/luckygeck/dedalus/pkg/models"
)

// Line is one line of captured output from a running executor.
type Line struct {
	Text     string
	IsStderr bool
}

// Executor is the contract every executor plugin implements.
type Executor interface {
	// Start launches the task and returns a channel of output lines,
	// closed when both stdout and stderr reach EOF.
	Start(ctx context.Context) (<-chan Line, error)
	// Ping reports whether the process is still alive.
	Ping() (bool, error)
	// Kill terminates the process.
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
}

// Constructor builds an Executor from a persisted ExecutorConfig rooted at
// workDir (execution_data_root/<execution_id>, per spec.md §4.7).
type Constructor func(cfg models.ExecutorConfig, workDir string) Executor

var registry = map[string]map[models.SemVer]Constructor{}

func Register(kind string, version models.SemVer, ctor Constructor) {
	versions, ok := registry[kind]
	if !ok {
		versions = make(map[models.SemVer]Constructor)
		registry[kind] = versions
	}
	versions[version] = ctor
}

// FindPlugin returns the newest registered version of kind that is >=
// minVersion, mirroring worker/executor.py:Executors.find_plugin.
func FindPlugin(kind string, minVersion models.SemVer) (Constructor, error) {
	versions, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("execplugin: no plugin registered for kind %q", kind)
	}

	var best *models.SemVer
	var bestCtor Constructor
	for v, ctor := range versions {
		v := v
		if best == nil || v.Compare(*best) > 0 {
			best = &v
			bestCtor = ctor
		}
	}
	if best == nil || !best.GTE(minVersion) {
		return nil, fmt.Errorf("execplugin: no version of %q satisfies minimum %s", kind, minVersion)
	}
	return bestCtor, nil
}

// Describe builds the concrete Executor for a persisted ExecutorDescriptor.
func Describe(desc models.ExecutorDescriptor, workDir string) (Executor, error) {
	minVersion, err := models.ParseSemVer(desc.MinVersion)
	if err != nil {
		minVersion = models.SemVer{}
	}
	ctor, err := FindPlugin(desc.Name, minVersion)
	if err != nil {
		return nil, err
	}
	return ctor(desc.Config, workDir), nil
}

func init() {
	Register("shell", models.SemVer{Major: 0, Minor: 0, Patch: 1}, func(cfg models.ExecutorConfig, workDir string) Executor {
		return NewShellExecutor(cfg, workDir)
	})
}

// ShellExecutor spawns a subprocess via os/exec rooted at workDir.
type ShellExecutor struct {
	cfg     models.ExecutorConfig
	workDir string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func NewShellExecutor(cfg models.ExecutorConfig, workDir string) *ShellExecutor {
	if workDir == "" {
		workDir = cfg.WorkDir
	}
	return &ShellExecutor{cfg: cfg, workDir: workDir}
}

func (e *ShellExecutor) Start(ctx context.Context) (<-chan Line, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return nil, fmt.Errorf("shell executor already started")
	}
	if len(e.cfg.Command) == 0 {
		return nil, fmt.Errorf("shell executor requires a non-empty command")
	}

	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %s: %w", e.workDir, err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = e.workDir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	e.cmd = cmd
	e.done = make(chan struct{})

	lines := make(chan Line)
	var wg sync.WaitGroup
	wg.Add(2)
	go fanInLines(stdout, false, lines, &wg)
	go fanInLines(stderr, true, lines, &wg)

	go func() {
		wg.Wait()
		close(lines)
		e.mu.Lock()
		e.err = e.cmd.Wait()
		close(e.done)
		e.mu.Unlock()
	}()

	return lines, nil
}

func fanInLines(r io.Reader, isStderr bool, out chan<- Line, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- Line{Text: scanner.Text(), IsStderr: isStderr}
	}
}

func (e *ShellExecutor) Ping() (bool, error) {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false, fmt.Errorf("no command running")
	}
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}

func (e *ShellExecutor) Kill() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("no command running")
	}
	return cmd.Process.Kill()
}

// Wait blocks until the process exits and returns its exit code.
func (e *ShellExecutor) Wait() (int, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return -1, fmt.Errorf("shell executor not started")
	}
	<-done

	e.mu.Lock()
	err := e.err
	e.mu.Unlock()

	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
