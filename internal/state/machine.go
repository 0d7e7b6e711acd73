// Package state implements the two state machines shared by the master and
// the worker (TaskState, GraphInstanceState) as one generic tagged-transition
// machine, plus the event-publishing collaborator around it.
package state

import (
	"errors"
	"fmt"
)

// ErrForbiddenTransition is raised whenever a non-forced change_state call
// names a target not present in links[current]. It always surfaces as an
// app_error at the HTTP boundary.
var ErrForbiddenTransition = errors.New("forbidden state transition")

// ForbiddenTransition carries the offending from/to pair for callers that
// want to report it precisely (e.g. the error taxonomy mapper).
type ForbiddenTransition struct {
	From, To string
}

func (e *ForbiddenTransition) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrForbiddenTransition, e.From, e.To)
}

func (e *ForbiddenTransition) Unwrap() error { return ErrForbiddenTransition }

// Machine is a tagged-transition-table state machine. A state with no
// entries in links is terminal; a state present in failedStates is a failed
// terminal. aggregationOrder ranks states from "most dominant" to "least
// dominant" for Aggregate.
type Machine struct {
	links            map[string][]string
	failedStates     map[string]bool
	aggregationOrder []string
}

// NewMachine builds a Machine from its transition table. links need not
// list terminal states (an absent or empty entry means terminal).
func NewMachine(links map[string][]string, failedStates, aggregationOrder []string) *Machine {
	failed := make(map[string]bool, len(failedStates))
	for _, s := range failedStates {
		failed[s] = true
	}
	return &Machine{
		links:            links,
		failedStates:     failed,
		aggregationOrder: aggregationOrder,
	}
}

// CanTransition reports whether to is reachable from from: staying put is
// always allowed (idempotent), otherwise to must be in links[from].
func (m *Machine) CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range m.links[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChangeState validates (unless force) and returns nil on success, or a
// *ForbiddenTransition. It does not mutate anything itself — callers own the
// current-state storage and call this to decide whether the move is legal.
func (m *Machine) ChangeState(from, to string, force bool) error {
	if force || m.CanTransition(from, to) {
		return nil
	}
	return &ForbiddenTransition{From: from, To: to}
}

// IsTerminal reports whether a state has no outgoing transitions.
func (m *Machine) IsTerminal(s string) bool {
	return len(m.links[s]) == 0
}

// IsFailed reports whether a state is one of the designated failed terminals.
func (m *Machine) IsFailed(s string) bool {
	return m.failedStates[s]
}

// GetNextStates returns the states reachable (without force) from current.
func (m *Machine) GetNextStates(current string) []string {
	return m.links[current]
}

// Aggregate reduces a set of per-host/per-task states to the single state
// that represents them all: the first tag in aggregationOrder present in
// states, else "idle" (no states observed yet).
func (m *Machine) Aggregate(states []string) string {
	present := make(map[string]bool, len(states))
	for _, s := range states {
		present[s] = true
	}
	for _, tag := range m.aggregationOrder {
		if present[tag] {
			return tag
		}
	}
	return "idle"
}

// TransitionEvent represents a state transition event for publication.
type TransitionEvent struct {
	EntityType string // "task" or "graph_instance"
	EntityID   string
	OldState   string
	NewState   string
	Metadata   map[string]interface{}
}

// EventPublisher is an interface for publishing state change events.
type EventPublisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher is a no-op event publisher, the default when none is wired.
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(event TransitionEvent) error { return nil }

// Manager wraps a Machine with an EventPublisher so callers get a single
// Transition call that validates and announces in one step. The core
// engine packages (taskmentor, graphmentor, workerengine) do not depend on
// Manager directly — they call Machine.ChangeState and persist themselves;
// Manager is the ambient-observability convenience used by the HTTP layer.
type Manager struct {
	Machine   *Machine
	publisher EventPublisher
}

func NewManager(machine *Machine, publisher EventPublisher) *Manager {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Manager{Machine: machine, publisher: publisher}
}

func (m *Manager) Transition(entityType, entityID, from, to string, metadata map[string]interface{}) error {
	if err := m.Machine.ChangeState(from, to, false); err != nil {
		return err
	}
	event := TransitionEvent{
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   from,
		NewState:   to,
		Metadata:   metadata,
	}
	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("publish state transition: %w", err)
	}
	return nil
}
