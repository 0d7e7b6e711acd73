// Package workerengine implements the per-task worker-side supervisor named
// in spec.md §4.7: TaskExecution (prepare/execute/set_state) and the
// worker-side Engine (create_task/set_task_state with lazy TaskExecution
// construction), grounded 1:1 in worker/engine.py from original_source for
// the algorithm and in the teacher's executor.BashTaskExecutor.Execute for
// the Go idiom of capturing stdout/stderr into per-execution log files under
// execution_data_root/<execution_id>/ (stdout.log/stderr.log, append mode).
package workerengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/dlq"
	"github.com/luckygeck/dedalus/internal/execplugin"
	"github.com/luckygeck/dedalus/internal/resource"
	"github.com/luckygeck/dedalus/internal/retry"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/pkg/models"
)

// TaskExecution is the per-task supervisor on the worker: it owns one
// TaskInfo document and drives it through prepare -> execute.
type TaskExecution struct {
	taskID    string
	structure models.TaskStruct
	store     storage.Store // tasks/ collection
	machine   *state.Machine
	logDir    string
	dlqMgr    *dlq.Manager

	userStop atomic.Bool
	mu       sync.Mutex
	executor execplugin.Executor
}

func newTaskExecution(taskID string, structure models.TaskStruct, store storage.Store, executionDataRoot string, dlqMgr *dlq.Manager) *TaskExecution {
	return &TaskExecution{
		taskID:    taskID,
		structure: structure,
		store:     store,
		machine:   state.NewTaskStateMachine(),
		logDir:    filepath.Join(executionDataRoot, taskID),
		dlqMgr:    dlqMgr,
	}
}

func (te *TaskExecution) load(ctx context.Context) (*models.TaskInfo, error) {
	var info models.TaskInfo
	if err := storage.GetJSON(ctx, te.store, te.taskID, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (te *TaskExecution) persist(ctx context.Context, info *models.TaskInfo) error {
	return storage.PutJSON(ctx, te.store, te.taskID, info)
}

// prepare transitions idle -> preparing, ensures every resource, then
// transitions to prepared/prepfailed/stopped per spec.md §4.7.
func (te *TaskExecution) prepare(ctx context.Context) error {
	info, err := te.load(ctx)
	if err != nil {
		return fmt.Errorf("workerengine: load task %s: %w", te.taskID, err)
	}

	now := time.Now()
	info.ExecStats.State = state.TaskPreparing
	info.ExecStats.PrepStart = &now
	if err := te.persist(ctx, info); err != nil {
		return fmt.Errorf("workerengine: persist preparing for %s: %w", te.taskID, err)
	}

	var prepErr error
	for _, desc := range te.structure.Resources {
		if te.userStop.Load() {
			break
		}
		res, err := resource.Describe(desc)
		if err != nil {
			prepErr = err
			break
		}
		if err := resource.Ensure(ctx, desc.Kind, res, retry.DefaultExponentialBackoff()); err != nil {
			prepErr = err
			break
		}
	}

	finish := time.Now()
	info.ExecStats.PrepFinish = &finish
	switch {
	case te.userStop.Load():
		info.ExecStats.State = state.TaskStopped
	case prepErr != nil:
		info.ExecStats.State = state.TaskPrepFailed
		info.ExecStats.PrepMsg = prepErr.Error()
	default:
		info.ExecStats.State = state.TaskPrepared
	}

	if err := te.persist(ctx, info); err != nil {
		return fmt.Errorf("workerengine: persist prepare result for %s: %w", te.taskID, err)
	}

	if info.ExecStats.State == state.TaskPrepFailed && te.dlqMgr != nil {
		_ = te.dlqMgr.AddFailedTask(ctx, info, "", "", "", "")
	}
	return nil
}

// execute starts the executor, streams output into stdout.log/stderr.log,
// and drives the task to its terminal state based on the exit code.
func (te *TaskExecution) execute(ctx context.Context) error {
	info, err := te.load(ctx)
	if err != nil {
		return fmt.Errorf("workerengine: load task %s: %w", te.taskID, err)
	}

	exec, err := execplugin.Describe(te.structure.Executor, te.logDir)
	if err != nil {
		return fmt.Errorf("workerengine: describe executor for %s: %w", te.taskID, err)
	}
	te.mu.Lock()
	te.executor = exec
	te.mu.Unlock()

	lines, err := exec.Start(ctx)
	if err != nil {
		return fmt.Errorf("workerengine: start executor for %s: %w", te.taskID, err)
	}

	now := time.Now()
	info.ExecStats.State = state.TaskRunning
	info.ExecStats.Start = &now
	if err := te.persist(ctx, info); err != nil {
		return fmt.Errorf("workerengine: persist running for %s: %w", te.taskID, err)
	}

	if err := os.MkdirAll(te.logDir, 0o755); err != nil {
		return fmt.Errorf("workerengine: create log dir for %s: %w", te.taskID, err)
	}
	stdoutFile, err := os.OpenFile(filepath.Join(te.logDir, "stdout.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("workerengine: open stdout.log for %s: %w", te.taskID, err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(filepath.Join(te.logDir, "stderr.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("workerengine: open stderr.log for %s: %w", te.taskID, err)
	}
	defer stderrFile.Close()

	for line := range lines {
		if line.IsStderr {
			fmt.Fprintln(stderrFile, line.Text)
		} else {
			fmt.Fprintln(stdoutFile, line.Text)
		}
	}

	retcode, waitErr := exec.Wait()
	if waitErr != nil {
		logrus.WithError(waitErr).WithField("task_id", te.taskID).Warn("executor wait returned an error")
	}

	finish := time.Now()
	info.ExecStats.Finish = &finish
	info.ExecStats.Retcode = &retcode

	switch {
	case te.userStop.Load():
		info.ExecStats.State = state.TaskStopped
	case retcode == 0:
		info.ExecStats.State = state.TaskFinished
	default:
		info.ExecStats.State = state.TaskFailed
	}

	if err := te.persist(ctx, info); err != nil {
		return fmt.Errorf("workerengine: persist execute result for %s: %w", te.taskID, err)
	}

	if info.ExecStats.State == state.TaskFailed && te.dlqMgr != nil {
		_ = te.dlqMgr.AddFailedTask(ctx, info, "", "", "", "")
	}
	return nil
}

// setState validates target against the current persisted state and, for
// idle -> preparing, launches the supervisor goroutine. For target ==
// stopped, it sets the user-stop flag and kills any running executor.
func (te *TaskExecution) setState(ctx context.Context, target string) error {
	info, err := te.load(ctx)
	if err != nil {
		return fmt.Errorf("workerengine: load task %s: %w", te.taskID, err)
	}

	if err := te.machine.ChangeState(info.ExecStats.State, target, false); err != nil {
		return err
	}

	if target == state.TaskStopped {
		te.userStop.Store(true)
		te.mu.Lock()
		exec := te.executor
		te.mu.Unlock()
		if exec != nil {
			_ = exec.Kill()
		}
		return nil
	}

	if info.ExecStats.State == state.TaskIdle && target == state.TaskPreparing {
		go func() {
			if err := te.prepare(context.Background()); err != nil {
				logrus.WithError(err).WithField("task_id", te.taskID).Error("prepare failed")
				return
			}
			info, err := te.load(context.Background())
			if err != nil || info.ExecStats.State != state.TaskPrepared {
				return
			}
			if err := te.execute(context.Background()); err != nil {
				logrus.WithError(err).WithField("task_id", te.taskID).Error("execute failed")
			}
		}()
		return nil
	}

	return nil
}

// Engine is the worker-side registry of live TaskExecutions, keyed by the
// opaque task id assigned at create_task time.
type Engine struct {
	store             storage.Store // tasks/ collection
	executionDataRoot string
	dlqMgr            *dlq.Manager

	mu         sync.Mutex
	executions map[string]*TaskExecution
}

func NewEngine(store storage.Store, executionDataRoot string, dlqMgr *dlq.Manager) *Engine {
	return &Engine{
		store:             store,
		executionDataRoot: executionDataRoot,
		dlqMgr:            dlqMgr,
		executions:        make(map[string]*TaskExecution),
	}
}

// CreateTask registers a new TaskInfo in state idle and returns its id.
func (e *Engine) CreateTask(ctx context.Context, structure models.TaskStruct) (string, error) {
	taskID := uuid.NewString()
	info := &models.TaskInfo{
		TaskID:    taskID,
		Structure: structure,
		ExecStats: models.TaskExecStats{State: state.TaskIdle},
	}
	if err := storage.PutJSON(ctx, e.store, taskID, info); err != nil {
		return "", fmt.Errorf("workerengine: persist new task: %w", err)
	}
	return taskID, nil
}

// SetTaskState validates and applies a requested state transition,
// constructing the TaskExecution supervisor lazily on first use (mirroring
// worker/engine.py:Engine.set_task_state — there is no separate "register"
// call, the first transition request creates the in-memory supervisor).
func (e *Engine) SetTaskState(ctx context.Context, taskID, target string) error {
	te, err := e.executionFor(taskID)
	if err != nil {
		return err
	}
	return te.setState(ctx, target)
}

// GetTaskState reads the task's current persisted state.
func (e *Engine) GetTaskState(ctx context.Context, taskID string) (string, error) {
	var info models.TaskInfo
	if err := storage.GetJSON(ctx, e.store, taskID, &info); err != nil {
		return "", err
	}
	return info.ExecStats.State, nil
}

// GetTaskLog reads one stream ("out" or "err") of the task's captured log,
// per spec.md §1's "no log shipping beyond a proxy read" non-goal and
// spec.md §6's `/log/{out|err}` route.
func (e *Engine) GetTaskLog(ctx context.Context, taskID, stream string) (string, error) {
	var file string
	switch stream {
	case "out":
		file = "stdout.log"
	case "err":
		file = "stderr.log"
	default:
		return "", fmt.Errorf("workerengine: unknown log stream %q", stream)
	}
	data, err := os.ReadFile(filepath.Join(e.executionDataRoot, taskID, file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("workerengine: read %s log for %s: %w", stream, taskID, err)
	}
	return string(data), nil
}

// ListTasks returns every persisted TaskInfo, for the worker's GET /tasks.
func (e *Engine) ListTasks(ctx context.Context) ([]models.TaskInfo, error) {
	entries, err := e.store.Iterate(ctx, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("workerengine: list tasks: %w", err)
	}
	tasks := make([]models.TaskInfo, 0, len(entries))
	for _, entry := range entries {
		var info models.TaskInfo
		if err := json.Unmarshal(entry.Doc, &info); err != nil {
			continue
		}
		tasks = append(tasks, info)
	}
	return tasks, nil
}

// GetTask returns the persisted TaskInfo for one task id.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*models.TaskInfo, error) {
	var info models.TaskInfo
	if err := storage.GetJSON(ctx, e.store, taskID, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ActiveTaskCount reports how many in-memory TaskExecutions have not yet
// reached a terminal state — the count internal/heartbeat publishes
// alongside its liveness ping. Tasks the worker hasn't been asked about
// since process start are not reflected, matching the lazy-construction
// semantics of executionFor.
func (e *Engine) ActiveTaskCount() int {
	e.mu.Lock()
	taskIDs := make([]string, 0, len(e.executions))
	for id := range e.executions {
		taskIDs = append(taskIDs, id)
	}
	e.mu.Unlock()

	machine := state.NewTaskStateMachine()
	active := 0
	for _, id := range taskIDs {
		var info models.TaskInfo
		if err := storage.GetJSON(context.Background(), e.store, id, &info); err != nil {
			continue
		}
		if !machine.IsTerminal(info.ExecStats.State) {
			active++
		}
	}
	return active
}

func (e *Engine) executionFor(taskID string) (*TaskExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if te, ok := e.executions[taskID]; ok {
		return te, nil
	}

	var info models.TaskInfo
	if err := storage.GetJSON(context.Background(), e.store, taskID, &info); err != nil {
		return nil, fmt.Errorf("workerengine: load task %s: %w", taskID, err)
	}

	te := newTaskExecution(taskID, info.Structure, e.store, e.executionDataRoot, e.dlqMgr)
	e.executions[taskID] = te
	return te, nil
}
