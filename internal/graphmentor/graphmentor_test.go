package graphmentor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/taskmentor"
	"github.com/luckygeck/dedalus/pkg/models"
)

type scriptedClient struct {
	state string
}

func (c *scriptedClient) CreateTask(ctx context.Context, structure models.TaskStruct) (string, error) {
	return "task-" + structure.Executor.Name, nil
}

func (c *scriptedClient) StartTask(ctx context.Context, taskID string) (string, error) {
	return state.TaskRunning, nil
}

func (c *scriptedClient) GetTaskState(ctx context.Context, taskID string) (string, error) {
	return c.state, nil
}

func linearInstance() *models.GraphInstanceInfo {
	structure := models.GraphStruct{
		GraphName: "g1",
		Revision:  0,
		Clusters:  map[string][]string{"c1": {"host-a"}},
		Tasks: []models.ExtendedTask{
			{TaskName: "a", Hosts: []string{"c1"}},
			{TaskName: "b", Hosts: []string{"c1"}},
		},
		Deps: map[string][]string{"b": {"a"}},
	}
	instance := &models.GraphInstanceInfo{
		InstanceID: "inst-1",
		Structure:  structure,
		ExecStats:  models.GraphInstanceExecutionInfo{State: state.GraphRunning},
	}
	instance.InitPerTaskExecutionInfo()
	return instance
}

func TestGraphMentor_RunsToFinished(t *testing.T) {
	instance := linearInstance()
	store := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskFinished}
	var shutdown, userStop atomic.Bool

	gm, err := New(instance, store, func(host string) taskmentor.WorkerClient { return client }, &shutdown, &userStop)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10 && !gm.Done(); i++ {
		gm.Tick(ctx)
	}
	if !gm.Done() {
		t.Fatalf("expected graph mentor to finish within 10 ticks")
	}
	if instance.ExecStats.State != state.GraphFinished {
		t.Fatalf("expected finished, got %s", instance.ExecStats.State)
	}
}

func TestGraphMentor_FailsFastOnFirstFailure(t *testing.T) {
	instance := linearInstance()
	store := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskFailed}
	var shutdown, userStop atomic.Bool

	gm, err := New(instance, store, func(host string) taskmentor.WorkerClient { return client }, &shutdown, &userStop)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10 && !gm.Done(); i++ {
		gm.Tick(ctx)
	}
	if instance.ExecStats.State != state.GraphFailed {
		t.Fatalf("expected failed, got %s", instance.ExecStats.State)
	}
}

func TestGraphMentor_ShutdownLeavesInstanceRunning(t *testing.T) {
	instance := linearInstance()
	store := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskRunning}
	var shutdown, userStop atomic.Bool
	shutdown.Store(true)

	gm, err := New(instance, store, func(host string) taskmentor.WorkerClient { return client }, &shutdown, &userStop)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	gm.Tick(context.Background())
	if instance.ExecStats.State != state.GraphRunning {
		t.Fatalf("expected instance to remain running across shutdown, got %s", instance.ExecStats.State)
	}
}

func TestNew_ResumesAfterCrashWithUpstreamAlreadyFinished(t *testing.T) {
	instance := linearInstance()
	// Simulate a restart: "a" had already finished before the crash, "b"
	// never started. Construction must put "b" in the working set even
	// though it has a dependency, since that dependency is satisfied.
	for _, hostInfo := range instance.ExecStats.PerTaskExecutionInfo["a"].PerHostInfo {
		hostInfo.State = state.TaskFinished
	}

	store := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskFinished}
	var shutdown, userStop atomic.Bool

	gm, err := New(instance, store, func(host string) taskmentor.WorkerClient { return client }, &shutdown, &userStop)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bIdx := gm.byName["b"]
	if !gm.working[bIdx] {
		t.Fatalf("expected b to be immediately ready since its only dependency is already finished")
	}

	ctx := context.Background()
	for i := 0; i < 10 && !gm.Done(); i++ {
		gm.Tick(ctx)
	}
	if !gm.Done() {
		t.Fatalf("expected graph mentor to finish within 10 ticks")
	}
	if instance.ExecStats.State != state.GraphFinished {
		t.Fatalf("expected finished, got %s", instance.ExecStats.State)
	}
}

func TestNew_FailsWhenNoTaskIsReady(t *testing.T) {
	instance := linearInstance()
	// Corrupt persisted state: both tasks report a dependency, which is
	// impossible for a valid DAG but simulates inconsistent recovery state.
	instance.Structure.Deps["a"] = []string{"b"}
	store := storage.NewMemoryStore()
	var shutdown, userStop atomic.Bool

	_, err := New(instance, store, func(host string) taskmentor.WorkerClient { return &scriptedClient{} }, &shutdown, &userStop)
	if err == nil {
		t.Fatalf("expected construction to fail when no task is immediately ready")
	}
}
