// Package graphmentor implements GraphMentor (spec.md §4.4), the master-side
// per-instance DAG walker grounded in master/engine.py:GraphMentor for the
// tick/stop_execution semantics and in the teacher's dag.Graph/dag.Validator
// DAG-walking idiom (moved to internal/dagutil: topological order, cycle
// detection, adjacency/reverse-adjacency lists) for construction-time
// bookkeeping.
package graphmentor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/taskmentor"
	"github.com/luckygeck/dedalus/pkg/models"
)

// GraphMentor owns one GraphInstanceInfo and advances it one tick at a time.
type GraphMentor struct {
	instance *models.GraphInstanceInfo
	store    storage.Store // instances/ collection
	machine  *state.Machine

	mentors []*taskmentor.TaskMentor
	byName  map[string]int

	working map[int]bool

	shutdown *atomic.Bool
	userStop *atomic.Bool
}

// New builds a GraphMentor from an instance whose per_task_execution_info is
// already initialized (see GraphInstanceInfo.InitPerTaskExecutionInfo,
// called once at the idle -> running transition per spec.md §4.5). shutdown
// and userStop are shared flags owned by the enclosing GraphExecutor.
func New(instance *models.GraphInstanceInfo, store storage.Store, clientFor taskmentor.ClientForHost, shutdown, userStop *atomic.Bool) (*GraphMentor, error) {
	gm := &GraphMentor{
		instance: instance,
		store:    store,
		machine:  state.NewGraphInstanceStateMachine(),
		byName:   make(map[string]int, len(instance.Structure.Tasks)),
		working:  make(map[int]bool),
		shutdown: shutdown,
		userStop: userStop,
	}

	for i, task := range instance.Structure.Tasks {
		info := instance.ExecStats.PerTaskExecutionInfo[task.TaskName]
		if info == nil {
			return nil, fmt.Errorf("graphmentor: task %s has no execution info — instance not initialized", task.TaskName)
		}
		tm := taskmentor.New(task.TaskName, info, task.TaskStruct, clientFor)
		gm.mentors = append(gm.mentors, tm)
		gm.byName[task.TaskName] = i
	}

	for i, task := range instance.Structure.Tasks {
		for _, depName := range instance.Structure.Deps[task.TaskName] {
			depIdx, ok := gm.byName[depName]
			if !ok {
				return nil, fmt.Errorf("graphmentor: task %s depends on unknown task %s", task.TaskName, depName)
			}
			gm.mentors[i].Dependencies = append(gm.mentors[i].Dependencies, depIdx)
		}
		for _, depName := range instance.ExecStats.PerTaskExecutionInfo[task.TaskName].Dependents {
			depIdx, ok := gm.byName[depName]
			if !ok {
				return nil, fmt.Errorf("graphmentor: task %s has unknown dependent %s", task.TaskName, depName)
			}
			gm.mentors[i].Dependents = append(gm.mentors[i].Dependents, depIdx)
		}
	}

	for i, tm := range gm.mentors {
		if !tm.IsDone() && gm.dependenciesReady(i) {
			gm.working[i] = true
		}
	}
	if len(gm.mentors) > 0 && len(gm.working) == 0 {
		return nil, fmt.Errorf("graphmentor: instance %s has tasks but none is immediately ready — inconsistent persisted state", instance.InstanceID)
	}

	return gm, nil
}

func (gm *GraphMentor) persist(ctx context.Context) error {
	return storage.PutJSON(ctx, gm.store, gm.instance.InstanceID, gm.instance)
}

// Tick advances every working mentor by one step, per spec.md §4.4.
func (gm *GraphMentor) Tick(ctx context.Context) {
	if gm.shutdown.Load() || gm.userStop.Load() {
		gm.stopExecution(ctx)
		return
	}

	for idx := range gm.working {
		gm.mentors[idx].Tick(ctx)
	}

	if err := gm.persist(ctx); err != nil {
		logrus.WithError(err).WithField("instance_id", gm.instance.InstanceID).Error("failed to persist tick progress")
	}

	for idx := range gm.working {
		tm := gm.mentors[idx]
		if !tm.IsDone() {
			continue
		}
		if tm.IsFailed() {
			gm.stopExecution(ctx)
			return
		}
	}

	next := make(map[int]bool, len(gm.working))
	for idx := range gm.working {
		tm := gm.mentors[idx]
		if !tm.IsDone() {
			next[idx] = true
			continue
		}
		for _, depIdx := range tm.Dependents {
			if gm.dependenciesReady(depIdx) {
				next[depIdx] = true
			}
		}
	}
	gm.working = next

	if len(gm.working) == 0 {
		gm.finish(ctx, false, "")
	}
}

func (gm *GraphMentor) dependenciesReady(idx int) bool {
	tm := gm.mentors[idx]
	if tm.IsDone() {
		return false
	}
	deps := make([]*taskmentor.TaskMentor, 0, len(tm.Dependencies))
	for _, depIdx := range tm.Dependencies {
		deps = append(deps, gm.mentors[depIdx])
	}
	return taskmentor.AllDepsReady(deps)
}

// stopExecution implements spec.md §4.4's termination path: if shutdown is
// set, do nothing (the instance resumes from its last persisted progress on
// restart); otherwise mark the instance failed if any mentor reports
// failed, else stopped if a user stop was requested, else finished, and
// clear the working set.
func (gm *GraphMentor) stopExecution(ctx context.Context) {
	if gm.shutdown.Load() {
		return
	}

	anyFailed := false
	for _, tm := range gm.mentors {
		if tm.IsFailed() {
			anyFailed = true
			break
		}
	}

	failMsg := ""
	if anyFailed {
		failMsg = "a task failed"
	} else if gm.userStop.Load() {
		failMsg = "stopped by user"
	}
	gm.finish(ctx, anyFailed, failMsg)
}

func (gm *GraphMentor) finish(ctx context.Context, failed bool, failMsg string) {
	now := time.Now()
	gm.instance.ExecStats.FinishTime = &now

	switch {
	case failed:
		gm.instance.ExecStats.State = state.GraphFailed
	case gm.userStop.Load():
		gm.instance.ExecStats.State = state.GraphStopped
	default:
		gm.instance.ExecStats.State = state.GraphFinished
	}
	gm.instance.ExecStats.FailMsg = failMsg

	if err := gm.persist(ctx); err != nil {
		logrus.WithError(err).WithField("instance_id", gm.instance.InstanceID).Error("failed to persist instance completion")
	}
	gm.working = make(map[int]bool)
}

// Done reports whether the working set is empty — the instance's
// termination condition per spec.md §4.4.
func (gm *GraphMentor) Done() bool {
	return len(gm.working) == 0
}

// Machine exposes the GraphInstanceState machine so the owning GraphExecutor
// can validate an externally requested set_state(target) before delegating.
func (gm *GraphMentor) Machine() *state.Machine {
	return gm.machine
}
