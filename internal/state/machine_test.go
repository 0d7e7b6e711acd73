package state

import (
	"errors"
	"testing"
)

func TestTaskStateMachine_CanTransition(t *testing.T) {
	sm := NewTaskStateMachine()

	tests := []struct {
		name     string
		from, to string
		expected bool
	}{
		{"idle to preparing", TaskIdle, TaskPreparing, true},
		{"idle to stopped", TaskIdle, TaskStopped, true},
		{"preparing to prepared", TaskPreparing, TaskPrepared, true},
		{"preparing to prepfailed", TaskPreparing, TaskPrepFailed, true},
		{"prepared to running", TaskPrepared, TaskRunning, true},
		{"running to finished", TaskRunning, TaskFinished, true},
		{"running to failed", TaskRunning, TaskFailed, true},
		{"same state is idempotent", TaskRunning, TaskRunning, true},
		{"finished is terminal", TaskFinished, TaskRunning, false},
		{"idle cannot skip to running", TaskIdle, TaskRunning, false},
		{"failed cannot resume", TaskFailed, TaskRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sm.CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestTaskStateMachine_ChangeState(t *testing.T) {
	sm := NewTaskStateMachine()

	if err := sm.ChangeState(TaskIdle, TaskPreparing, false); err != nil {
		t.Fatalf("expected legal transition to succeed, got %v", err)
	}

	err := sm.ChangeState(TaskFinished, TaskRunning, false)
	if err == nil {
		t.Fatalf("expected forbidden transition error")
	}
	var ft *ForbiddenTransition
	if !errors.As(err, &ft) {
		t.Fatalf("expected *ForbiddenTransition, got %T", err)
	}

	if err := sm.ChangeState(TaskFinished, TaskRunning, true); err != nil {
		t.Fatalf("forced transition should never fail, got %v", err)
	}
}

func TestTaskStateMachine_IsTerminalAndFailed(t *testing.T) {
	sm := NewTaskStateMachine()

	for _, s := range []string{TaskFinished, TaskFailed, TaskStopped, TaskPrepFailed} {
		if !sm.IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []string{TaskIdle, TaskPreparing, TaskPrepared, TaskRunning} {
		if sm.IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}

	for _, s := range []string{TaskFailed, TaskStopped, TaskPrepFailed} {
		if !sm.IsFailed(s) {
			t.Errorf("expected %s to be a failed state", s)
		}
	}
	if sm.IsFailed(TaskFinished) {
		t.Errorf("finished must not be a failed state")
	}
}

func TestTaskStateMachine_Aggregate(t *testing.T) {
	sm := NewTaskStateMachine()

	if got := sm.Aggregate([]string{TaskFinished}); got != TaskFinished {
		t.Errorf("Aggregate(singleton) = %s, want %s", got, TaskFinished)
	}
	if got := sm.Aggregate([]string{TaskFinished, TaskStopped}); got != TaskStopped {
		t.Errorf("Aggregate with stopped present = %s, want %s", got, TaskStopped)
	}
	if got := sm.Aggregate([]string{TaskRunning, TaskPrepared}); got != TaskRunning {
		t.Errorf("Aggregate running+prepared = %s, want %s", got, TaskRunning)
	}
	if got := sm.Aggregate(nil); got != TaskIdle {
		t.Errorf("Aggregate(nil) = %s, want %s", got, TaskIdle)
	}
}

func TestGraphInstanceStateMachine_ForceOnlyFailedEdge(t *testing.T) {
	sm := NewGraphInstanceStateMachine()

	if sm.CanTransition(GraphRunning, GraphFailed) {
		t.Fatalf("running->failed must not be a validated transition, only a forced one")
	}
	if err := sm.ChangeState(GraphRunning, GraphFailed, true); err != nil {
		t.Fatalf("forced running->failed must succeed, got %v", err)
	}
}

func TestManager_Transition(t *testing.T) {
	var published []TransitionEvent
	pub := &mockPublisher{events: &published}
	mgr := NewManager(NewGraphInstanceStateMachine(), pub)

	if err := mgr.Transition("graph_instance", "inst1", GraphIdle, GraphRunning, map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("expected legal transition, got %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(published))
	}
	if published[0].NewState != GraphRunning {
		t.Errorf("expected published NewState %s, got %s", GraphRunning, published[0].NewState)
	}

	if err := mgr.Transition("graph_instance", "inst1", GraphFinished, GraphRunning, nil); err == nil {
		t.Fatalf("expected forbidden transition error")
	}
}

func TestNoOpPublisher(t *testing.T) {
	p := &NoOpPublisher{}
	if err := p.Publish(TransitionEvent{EntityType: "test"}); err != nil {
		t.Errorf("NoOpPublisher.Publish() should never error, got %v", err)
	}
}

type mockPublisher struct {
	events *[]TransitionEvent
}

func (m *mockPublisher) Publish(event TransitionEvent) error {
	*m.events = append(*m.events, event)
	return nil
}
