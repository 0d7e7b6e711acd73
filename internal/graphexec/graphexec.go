// Package graphexec implements GraphExecutor and the master Engine (spec.md
// §4.5, §4.6), grounded 1:1 in master/engine.py:GraphExecutor/Engine from
// original_source for lifecycle and algorithm, and in the teacher's
// executor.LocalExecutor.Start/Stop worker-pool start/drain-with-timeout
// idiom for the Go supervisor-goroutine shape: a context.Context + cancel, a
// sync.WaitGroup-tracked goroutine, and two atomic.Bool flags (shutdown,
// userStop) standing in for the Python original's threading.Events, per
// spec.md §9's cooperative-cancellation guidance.
package graphexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luckygeck/dedalus/internal/graphmentor"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/taskmentor"
	"github.com/luckygeck/dedalus/pkg/models"
)

const defaultTickInterval = 1 * time.Second

// GraphExecutor is the long-running supervisor, one per running instance.
type GraphExecutor struct {
	instanceID   string
	store        storage.Store // instances/ collection
	clientFor    taskmentor.ClientForHost
	tickInterval time.Duration
	onExit       func(instanceID string)

	machine *state.Machine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdown atomic.Bool
	userStop atomic.Bool
}

func newGraphExecutor(instanceID string, store storage.Store, clientFor taskmentor.ClientForHost, tickInterval time.Duration, onExit func(string)) *GraphExecutor {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GraphExecutor{
		instanceID:   instanceID,
		store:        store,
		clientFor:    clientFor,
		tickInterval: tickInterval,
		onExit:       onExit,
		machine:      state.NewGraphInstanceStateMachine(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start spawns the supervisor goroutine and returns immediately.
func (ge *GraphExecutor) Start() {
	ge.wg.Add(1)
	go ge.run()
}

func (ge *GraphExecutor) run() {
	defer ge.wg.Done()
	defer ge.cancel()
	defer func() {
		if ge.onExit != nil {
			ge.onExit(ge.instanceID)
		}
	}()

	logger := logrus.WithField("instance_id", ge.instanceID)

	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ge.ctx, ge.store, ge.instanceID, &instance); err != nil {
		logger.WithError(err).Error("failed to load instance at startup")
		return
	}

	if instance.ExecStats.State == state.GraphIdle {
		now := time.Now()
		instance.ExecStats.State = state.GraphRunning
		instance.ExecStats.StartTime = &now
		instance.InitPerTaskExecutionInfo()
		if err := storage.PutJSON(ge.ctx, ge.store, ge.instanceID, &instance); err != nil {
			logger.WithError(err).Error("failed to persist start_execution")
			return
		}
		if err := storage.GetJSON(ge.ctx, ge.store, ge.instanceID, &instance); err != nil {
			logger.WithError(err).Error("failed to reload instance after start_execution")
			return
		}
	}

	mentor, err := graphmentor.New(&instance, ge.store, ge.clientFor, &ge.shutdown, &ge.userStop)
	if err != nil {
		ge.markFailed(logger, err)
		return
	}

	ticker := time.NewTicker(ge.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mentor.Tick(ge.ctx)
			if mentor.Done() {
				return
			}
		}
	}
}

func (ge *GraphExecutor) markFailed(logger *logrus.Entry, cause error) {
	logger.WithError(cause).Error("graph executor tick failed")
	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ge.ctx, ge.store, ge.instanceID, &instance); err != nil {
		logger.WithError(err).Error("failed to reload instance to record failure")
		return
	}
	instance.ExecStats.State = state.GraphFailed
	instance.ExecStats.FailMsg = cause.Error()
	if err := storage.PutJSON(ge.ctx, ge.store, ge.instanceID, &instance); err != nil {
		logger.WithError(err).Error("failed to persist failure state")
	}
}

// SetState implements spec.md §4.5's set_state(target), called under the
// Engine's lock. A target of stopped only flips the userStop flag — the
// supervisor persists the terminal state on its own next tick, avoiding a
// race between the API goroutine and the supervisor.
func (ge *GraphExecutor) SetState(ctx context.Context, target string) (string, error) {
	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ctx, ge.store, ge.instanceID, &instance); err != nil {
		return "", fmt.Errorf("graphexec: load instance %s: %w", ge.instanceID, err)
	}
	prev := instance.ExecStats.State

	if err := ge.machine.ChangeState(prev, target, false); err != nil {
		return "", err
	}

	if target == state.GraphStopped {
		ge.userStop.Store(true)
		return prev, nil
	}

	instance.ExecStats.State = target
	if err := storage.PutJSON(ctx, ge.store, ge.instanceID, &instance); err != nil {
		return "", fmt.Errorf("graphexec: persist state %s for %s: %w", target, ge.instanceID, err)
	}
	return prev, nil
}

// Shutdown sets the shutdown flag: the next tick returns without persisting
// a final state, so the instance remains running in the Store and will be
// resumed by the Engine at next process start.
func (ge *GraphExecutor) Shutdown() {
	ge.shutdown.Store(true)
}

// Wait blocks until the supervisor goroutine has exited.
func (ge *GraphExecutor) Wait() {
	ge.wg.Wait()
}

// Engine is the master's registry of running GraphExecutors (spec.md §4.6).
type Engine struct {
	graphs    storage.Store // graphs/ collection
	instances storage.Store // instances/ collection
	clientFor taskmentor.ClientForHost
	tick      time.Duration

	mu      sync.Mutex
	running map[string]*GraphExecutor
}

func NewEngine(graphs, instances storage.Store, clientFor taskmentor.ClientForHost, tickInterval time.Duration) *Engine {
	return &Engine{
		graphs:    graphs,
		instances: instances,
		clientFor: clientFor,
		tick:      tickInterval,
		running:   make(map[string]*GraphExecutor),
	}
}

// AddGraphStruct assigns the next revision for name and persists it, per
// spec.md §4.6. The read-then-write revision lookup has a known race window
// under concurrent callers — acknowledged, not fixed, per spec.md §9.
func (e *Engine) AddGraphStruct(ctx context.Context, name string, structure models.GraphStruct) (int, error) {
	entries, err := e.graphs.Iterate(ctx, name+"/", "", "")
	if err != nil {
		return 0, fmt.Errorf("graphexec: scan revisions for %s: %w", name, err)
	}

	revision := 0
	for _, entry := range entries {
		var existing models.GraphStruct
		if err := json.Unmarshal(entry.Doc, &existing); err != nil {
			continue
		}
		if existing.Revision+1 > revision {
			revision = existing.Revision + 1
		}
	}

	structure.GraphName = name
	structure.Revision = revision
	key := fmt.Sprintf("%s/%d", name, revision)
	if err := storage.PutJSON(ctx, e.graphs, key, &structure); err != nil {
		return 0, fmt.Errorf("graphexec: persist graph %s rev %d: %w", name, revision, err)
	}
	return revision, nil
}

// LatestGraphStruct returns the highest-revision GraphStruct stored for name.
func (e *Engine) LatestGraphStruct(ctx context.Context, name string) (*models.GraphStruct, error) {
	entries, err := e.graphs.Iterate(ctx, name+"/", "", "")
	if err != nil {
		return nil, fmt.Errorf("graphexec: scan revisions for %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, storage.ErrNotFound
	}

	var latest *models.GraphStruct
	for _, entry := range entries {
		var g models.GraphStruct
		if err := json.Unmarshal(entry.Doc, &g); err != nil {
			continue
		}
		if latest == nil || g.Revision > latest.Revision {
			gCopy := g
			latest = &gCopy
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// AddGraphInstance persists a fresh GraphInstanceInfo with idle exec_stats.
// Starting is triggered by an explicit SetGraphInstanceState(id, running).
func (e *Engine) AddGraphInstance(ctx context.Context, structure models.GraphStruct) (string, error) {
	instanceID := uuid.NewString()
	instance := &models.GraphInstanceInfo{
		InstanceID: instanceID,
		Structure:  structure,
		ExecStats:  models.GraphInstanceExecutionInfo{State: state.GraphIdle},
	}
	if err := storage.PutJSON(ctx, e.instances, instanceID, instance); err != nil {
		return "", fmt.Errorf("graphexec: persist new instance: %w", err)
	}
	return instanceID, nil
}

// GetInstance returns the persisted GraphInstanceInfo for id.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*models.GraphInstanceInfo, error) {
	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ctx, e.instances, instanceID, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// ListInstances returns every persisted GraphInstanceInfo, for GET /v1.0/instances.
func (e *Engine) ListInstances(ctx context.Context) ([]models.GraphInstanceInfo, error) {
	entries, err := e.instances.Iterate(ctx, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("graphexec: list instances: %w", err)
	}
	out := make([]models.GraphInstanceInfo, 0, len(entries))
	for _, entry := range entries {
		var instance models.GraphInstanceInfo
		if err := json.Unmarshal(entry.Doc, &instance); err != nil {
			continue
		}
		out = append(out, instance)
	}
	return out, nil
}

// ListGraphNames returns the latest GraphStruct for every distinct graph
// name known to the store, for GET /v1.0/graphs.
func (e *Engine) ListGraphNames(ctx context.Context) ([]models.GraphStruct, error) {
	entries, err := e.graphs.Iterate(ctx, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("graphexec: list graphs: %w", err)
	}
	latestByName := make(map[string]models.GraphStruct)
	for _, entry := range entries {
		var g models.GraphStruct
		if err := json.Unmarshal(entry.Doc, &g); err != nil {
			continue
		}
		if existing, ok := latestByName[g.GraphName]; !ok || g.Revision > existing.Revision {
			latestByName[g.GraphName] = g
		}
	}
	out := make([]models.GraphStruct, 0, len(latestByName))
	for _, g := range latestByName {
		out = append(out, g)
	}
	return out, nil
}

// GraphRevision returns the GraphStruct stored at an exact revision.
func (e *Engine) GraphRevision(ctx context.Context, name string, revision int) (*models.GraphStruct, error) {
	var g models.GraphStruct
	key := fmt.Sprintf("%s/%d", name, revision)
	if err := storage.GetJSON(ctx, e.graphs, key, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// InstanceTaskLog proxies one stream of one (task, host) pair's captured log
// through the worker's WorkerClient, for the master's log-proxy route
// (spec.md §6's `/instance/{id}/logs/{task}/{host}/{out|err}`).
func (e *Engine) InstanceTaskLog(ctx context.Context, instanceID, taskName, host, stream string) (string, error) {
	instance, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return "", fmt.Errorf("graphexec: load instance %s: %w", instanceID, err)
	}
	taskInfo, ok := instance.ExecStats.PerTaskExecutionInfo[taskName]
	if !ok {
		return "", fmt.Errorf("graphexec: instance %s has no task %s", instanceID, taskName)
	}
	hostInfo, ok := taskInfo.PerHostInfo[host]
	if !ok || hostInfo.TaskID == "" {
		return "", fmt.Errorf("graphexec: task %s on host %s has not been assigned yet", taskName, host)
	}
	client, ok := e.clientFor(host).(logStreamer)
	if !ok {
		return "", fmt.Errorf("graphexec: worker client for host %s does not support log streaming", host)
	}
	return client.GetTaskLog(ctx, hostInfo.TaskID, stream)
}

// logStreamer is the subset of workerclient.Client that InstanceTaskLog
// needs beyond taskmentor.WorkerClient's create/start/state trio.
type logStreamer interface {
	GetTaskLog(ctx context.Context, taskID, stream string) (string, error)
}

// SetGraphInstanceState implements spec.md §4.6's set_graph_instance_state.
func (e *Engine) SetGraphInstanceState(ctx context.Context, instanceID, target string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ge, ok := e.running[instanceID]; ok {
		return ge.SetState(ctx, target)
	}

	var instance models.GraphInstanceInfo
	if err := storage.GetJSON(ctx, e.instances, instanceID, &instance); err != nil {
		return "", fmt.Errorf("graphexec: load instance %s: %w", instanceID, err)
	}
	prev := instance.ExecStats.State

	machine := state.NewGraphInstanceStateMachine()
	if err := machine.ChangeState(prev, target, false); err != nil {
		return "", err
	}

	if target != state.GraphRunning {
		instance.ExecStats.State = target
		if err := storage.PutJSON(ctx, e.instances, instanceID, &instance); err != nil {
			return "", fmt.Errorf("graphexec: persist state %s for %s: %w", target, instanceID, err)
		}
		return prev, nil
	}

	ge := newGraphExecutor(instanceID, e.instances, e.clientFor, e.tick, e.deregister)
	e.running[instanceID] = ge
	ge.Start()
	return prev, nil
}

func (e *Engine) deregister(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, instanceID)
}

// Shutdown signals every running GraphExecutor's shutdown flag. Instances
// remain running in the Store, per spec.md §4.6.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ge := range e.running {
		ge.Shutdown()
	}
}

// RecoverRunningInstances scans instances for state == running and spawns a
// GraphExecutor for each — the crash-recovery mechanism of spec.md §4.6,
// called once at master startup.
func (e *Engine) RecoverRunningInstances(ctx context.Context) error {
	entries, err := e.instances.Iterate(ctx, "", "", "")
	if err != nil {
		return fmt.Errorf("graphexec: scan instances: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range entries {
		var instance models.GraphInstanceInfo
		if err := json.Unmarshal(entry.Doc, &instance); err != nil {
			continue
		}
		if instance.ExecStats.State != state.GraphRunning {
			continue
		}
		if _, ok := e.running[instance.InstanceID]; ok {
			continue
		}
		ge := newGraphExecutor(instance.InstanceID, e.instances, e.clientFor, e.tick, e.deregister)
		e.running[instance.InstanceID] = ge
		ge.Start()
	}
	return nil
}
