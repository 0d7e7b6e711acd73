package graphexec

import (
	"context"
	"testing"
	"time"

	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/taskmentor"
	"github.com/luckygeck/dedalus/internal/testutil"
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

func (c *scriptedClient) GetTaskLog(ctx context.Context, taskID, stream string) (string, error) {
	return "log for " + taskID + " (" + stream + ")", nil
}

func clientFor(c taskmentor.WorkerClient) taskmentor.ClientForHost {
	return func(host string) taskmentor.WorkerClient { return c }
}

func singleTaskStruct() models.GraphStruct {
	return testutil.SingleShellTaskGraph("g1")
}

func waitForState(t *testing.T, store storage.Store, instanceID, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var instance models.GraphInstanceInfo
		if err := storage.GetJSON(context.Background(), store, instanceID, &instance); err == nil {
			if instance.ExecStats.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s", want)
}

func TestEngine_AddGraphStructAssignsIncrementingRevisions(t *testing.T) {
	engine := NewEngine(storage.NewMemoryStore(), storage.NewMemoryStore(), clientFor(&scriptedClient{}), time.Millisecond)
	ctx := context.Background()

	rev0, err := engine.AddGraphStruct(ctx, "g1", singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphStruct: %v", err)
	}
	if rev0 != 0 {
		t.Fatalf("expected first revision 0, got %d", rev0)
	}

	rev1, err := engine.AddGraphStruct(ctx, "g1", singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphStruct: %v", err)
	}
	if rev1 != 1 {
		t.Fatalf("expected second revision 1, got %d", rev1)
	}

	latest, err := engine.LatestGraphStruct(ctx, "g1")
	if err != nil {
		t.Fatalf("LatestGraphStruct: %v", err)
	}
	if latest.Revision != 1 {
		t.Fatalf("expected latest revision 1, got %d", latest.Revision)
	}
}

func TestEngine_AddGraphInstanceStartsIdle(t *testing.T) {
	instances := storage.NewMemoryStore()
	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(&scriptedClient{}), time.Millisecond)
	ctx := context.Background()

	instanceID, err := engine.AddGraphInstance(ctx, singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphInstance: %v", err)
	}

	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ctx, instances, instanceID, &instance); err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if instance.ExecStats.State != state.GraphIdle {
		t.Fatalf("expected idle, got %s", instance.ExecStats.State)
	}
}

func TestEngine_SetGraphInstanceStateRunsToFinished(t *testing.T) {
	instances := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskFinished}
	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(client), 5*time.Millisecond)
	ctx := context.Background()

	instanceID, err := engine.AddGraphInstance(ctx, singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphInstance: %v", err)
	}

	prev, err := engine.SetGraphInstanceState(ctx, instanceID, state.GraphRunning)
	if err != nil {
		t.Fatalf("SetGraphInstanceState: %v", err)
	}
	if prev != state.GraphIdle {
		t.Fatalf("expected prior state idle, got %s", prev)
	}

	waitForState(t, instances, instanceID, state.GraphFinished, 2*time.Second)
}

func TestEngine_SetGraphInstanceStateStoppedWhileRunning(t *testing.T) {
	instances := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskRunning}
	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(client), 5*time.Millisecond)
	ctx := context.Background()

	instanceID, err := engine.AddGraphInstance(ctx, singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphInstance: %v", err)
	}
	if _, err := engine.SetGraphInstanceState(ctx, instanceID, state.GraphRunning); err != nil {
		t.Fatalf("start instance: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if _, err := engine.SetGraphInstanceState(ctx, instanceID, state.GraphStopped); err != nil {
		t.Fatalf("stop instance: %v", err)
	}

	waitForState(t, instances, instanceID, state.GraphStopped, 2*time.Second)
}

func TestEngine_ShutdownLeavesInstanceRunning(t *testing.T) {
	instances := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskRunning}
	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(client), 5*time.Millisecond)
	ctx := context.Background()

	instanceID, err := engine.AddGraphInstance(ctx, singleTaskStruct())
	if err != nil {
		t.Fatalf("AddGraphInstance: %v", err)
	}
	if _, err := engine.SetGraphInstanceState(ctx, instanceID, state.GraphRunning); err != nil {
		t.Fatalf("start instance: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	engine.Shutdown()
	time.Sleep(15 * time.Millisecond)

	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ctx, instances, instanceID, &instance); err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if instance.ExecStats.State != state.GraphRunning {
		t.Fatalf("expected instance to remain running after shutdown, got %s", instance.ExecStats.State)
	}
}

func TestEngine_RecoverRunningInstancesResumesExecution(t *testing.T) {
	instances := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskFinished}
	ctx := context.Background()

	structure := singleTaskStruct()
	instance := &models.GraphInstanceInfo{
		InstanceID: "inst-recover",
		Structure:  structure,
		ExecStats:  models.GraphInstanceExecutionInfo{State: state.GraphRunning},
	}
	instance.InitPerTaskExecutionInfo()
	if err := storage.PutJSON(ctx, instances, instance.InstanceID, instance); err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(client), 5*time.Millisecond)
	if err := engine.RecoverRunningInstances(ctx); err != nil {
		t.Fatalf("RecoverRunningInstances: %v", err)
	}

	waitForState(t, instances, instance.InstanceID, state.GraphFinished, 2*time.Second)
}

func TestEngine_InstanceTaskLogProxiesThroughWorkerClient(t *testing.T) {
	instances := storage.NewMemoryStore()
	client := &scriptedClient{state: state.TaskRunning}
	engine := NewEngine(storage.NewMemoryStore(), instances, clientFor(client), time.Millisecond)
	ctx := context.Background()

	structure := singleTaskStruct()
	instance := &models.GraphInstanceInfo{
		InstanceID: "inst-log",
		Structure:  structure,
		ExecStats:  models.GraphInstanceExecutionInfo{State: state.GraphRunning},
	}
	instance.InitPerTaskExecutionInfo()
	instance.ExecStats.PerTaskExecutionInfo["a"].PerHostInfo["host-a"].TaskID = "task-77"
	if err := storage.PutJSON(ctx, instances, instance.InstanceID, instance); err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	log, err := engine.InstanceTaskLog(ctx, instance.InstanceID, "a", "host-a", "out")
	if err != nil {
		t.Fatalf("InstanceTaskLog: %v", err)
	}
	if log != "log for task-77 (out)" {
		t.Fatalf("unexpected log proxy result: %q", log)
	}
}
