// Package taskmentor implements TaskMentor (spec.md §4.3), the master-side
// per-task progress tracker grounded 1:1 in master/engine.py:TaskMentor from
// original_source for the tick algorithm (all_deps_ready/is_done/is_failed/
// get_ready_dependents) and structurally on the teacher's
// executor.LocalExecutor.scheduleTasks/worker.executeTask for the Go idiom:
// an explicit state struct, single-owner mutex-free access, logrus progress
// lines. Per spec.md §9's arena guidance, dependency/dependent references
// are resolved once after construction as []int indices into the owning
// GraphMentor's mentor slice rather than pointers, avoiding cycles.
package taskmentor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/circuitbreaker"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/pkg/models"
)

// WorkerClient is the subset of internal/workerclient.Client that TaskMentor
// needs, kept as an interface so tests can fake it.
type WorkerClient interface {
	CreateTask(ctx context.Context, structure models.TaskStruct) (string, error)
	StartTask(ctx context.Context, taskID string) (string, error)
	GetTaskState(ctx context.Context, taskID string) (string, error)
}

// ClientForHost resolves a host address (a cluster member, e.g. "host-a:8081")
// to the WorkerClient that talks to it.
type ClientForHost func(host string) WorkerClient

// TaskMentor owns the per-task slice of a running instance's
// per_task_execution_info, and drives every (host) sub-task forward one
// tick at a time.
type TaskMentor struct {
	TaskName string

	info      *models.TaskExecutionInfo
	structure models.TaskStruct
	machine   *state.Machine

	clientFor ClientForHost
	breakers  map[string]*circuitbreaker.CircuitBreaker

	// Dependencies/Dependents are indices into the owning GraphMentor's
	// mentor slice, resolved once after every TaskMentor is constructed.
	Dependencies []int
	Dependents   []int
}

// New builds a TaskMentor over an already-seeded TaskExecutionInfo (seeded
// once at the idle -> running transition per spec.md §4.5 step 2).
func New(taskName string, info *models.TaskExecutionInfo, structure models.TaskStruct, clientFor ClientForHost) *TaskMentor {
	return &TaskMentor{
		TaskName:  taskName,
		info:      info,
		structure: structure,
		machine:   state.NewTaskStateMachine(),
		clientFor: clientFor,
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (tm *TaskMentor) breakerFor(host string) *circuitbreaker.CircuitBreaker {
	cb, ok := tm.breakers[host]
	if !ok {
		cb = circuitbreaker.New(circuitbreaker.DefaultConfig())
		tm.breakers[host] = cb
	}
	return cb
}

// aggregatedState reduces every host's sub-state into one tag via the
// TaskState machine's Aggregate rule.
func (tm *TaskMentor) aggregatedState() string {
	states := make([]string, 0, len(tm.info.PerHostInfo))
	for _, h := range tm.info.PerHostInfo {
		states = append(states, h.State)
	}
	return tm.machine.Aggregate(states)
}

// AllDepsReady reports whether every dependency mentor (resolved externally
// via Dependencies) has already reported done-and-not-failed. The caller
// (GraphMentor) supplies the resolved mentor states since TaskMentor itself
// holds no pointers to siblings.
func AllDepsReady(deps []*TaskMentor) bool {
	for _, d := range deps {
		if !d.IsDone() || d.IsFailed() {
			return false
		}
	}
	return true
}

// IsDone reports whether the aggregated state is terminal.
func (tm *TaskMentor) IsDone() bool {
	return tm.machine.IsTerminal(tm.aggregatedState())
}

// IsFailed reports whether the aggregated state is a failed terminal.
func (tm *TaskMentor) IsFailed() bool {
	return tm.machine.IsFailed(tm.aggregatedState())
}

// Tick drives each host's sub-task through one forward step, per spec.md
// §4.3's tick algorithm. Persistence of the owning GraphInstanceInfo is the
// caller's (GraphMentor's) responsibility, invoked after every Tick.
func (tm *TaskMentor) Tick(ctx context.Context) {
	for host, hostInfo := range tm.info.PerHostInfo {
		client := tm.clientFor(host)
		cb := tm.breakerFor(host)

		switch {
		case hostInfo.TaskID == "":
			taskID, err := circuitbreaker.ExecuteWithValue(ctx, cb, func() (string, error) {
				return client.CreateTask(ctx, tm.structure)
			})
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{"task": tm.TaskName, "host": host}).
					Warn("create_task failed, will retry next tick")
				continue
			}
			hostInfo.TaskID = taskID
			hostInfo.State = state.TaskIdle

		case hostInfo.State == state.TaskIdle:
			newState, err := circuitbreaker.ExecuteWithValue(ctx, cb, func() (string, error) {
				return client.StartTask(ctx, hostInfo.TaskID)
			})
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{"task": tm.TaskName, "host": host}).
					Warn("start_task failed, will retry next tick")
				continue
			}
			hostInfo.State = newState

		case !tm.machine.IsTerminal(hostInfo.State):
			newState, err := circuitbreaker.ExecuteWithValue(ctx, cb, func() (string, error) {
				return client.GetTaskState(ctx, hostInfo.TaskID)
			})
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{"task": tm.TaskName, "host": host}).
					Warn("get_task_state failed, will retry next tick")
				continue
			}
			if newState != hostInfo.State {
				hostInfo.State = newState
			}
		}

		if tm.machine.IsFailed(hostInfo.State) {
			break
		}
	}
}
