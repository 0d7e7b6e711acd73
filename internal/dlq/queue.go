// Package dlq implements the dead-letter queue supplementing spec.md §4.7,
// dropped by the distillation but present in original_source: a worker task
// that terminates in prepfailed (a resource's ensure failed after its
// retries) or in failed (the executor exited nonzero; executor runs are not
// retried) is additionally recorded here for operator inspection/replay. It
// never feeds back into the state machine — purely an observability sink,
// grounded almost verbatim in the teacher's internal/dlq/queue.go.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/luckygeck/dedalus/pkg/models"
)

var (
	// ErrNotFound is returned when a DLQ entry is not found
	ErrNotFound = errors.New("dlq entry not found")

	// ErrAlreadyExists is returned when trying to add a duplicate entry
	ErrAlreadyExists = errors.New("dlq entry already exists")
)

// Entry represents a permanently failed task in the dead letter queue.
type Entry struct {
	ID           string                 `json:"id"`
	TaskID       string                 `json:"task_id"`
	GraphName    string                 `json:"graph_name"`
	InstanceID   string                 `json:"instance_id"`
	TaskName     string                 `json:"task_name"`
	Host         string                 `json:"host"`
	FinalState   string                 `json:"final_state"`
	FailureTime  time.Time              `json:"failure_time"`
	Retcode      *int                   `json:"retcode,omitempty"`
	ErrorMessage string                 `json:"error_message"`
	Metadata     map[string]interface{} `json:"metadata"`
	Replayed     bool                   `json:"replayed"`
	ReplayedAt   *time.Time             `json:"replayed_at,omitempty"`
}

// Queue represents a dead letter queue for permanently failed tasks.
type Queue interface {
	Add(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filters *Filters) ([]*Entry, error)
	Replay(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Filters holds filtering options for listing DLQ entries.
type Filters struct {
	GraphName string
	TaskName  string
	Replayed  *bool
	After     *time.Time
	Before    *time.Time
	Limit     int
	Offset    int
}

// MemoryQueue is an in-memory implementation of the DLQ.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*Entry)}
}

func (q *MemoryQueue) Add(ctx context.Context, entry *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[entry.ID]; exists {
		return ErrAlreadyExists
	}
	q.entries[entry.ID] = entry
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	entry, exists := q.entries[id]
	if !exists {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (q *MemoryQueue) List(ctx context.Context, filters *Filters) ([]*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Entry
	for _, entry := range q.entries {
		if filters != nil {
			if filters.GraphName != "" && entry.GraphName != filters.GraphName {
				continue
			}
			if filters.TaskName != "" && entry.TaskName != filters.TaskName {
				continue
			}
			if filters.Replayed != nil && entry.Replayed != *filters.Replayed {
				continue
			}
			if filters.After != nil && entry.FailureTime.Before(*filters.After) {
				continue
			}
			if filters.Before != nil && entry.FailureTime.After(*filters.Before) {
				continue
			}
		}
		result = append(result, entry)
	}

	if filters != nil {
		if filters.Offset > 0 && filters.Offset < len(result) {
			result = result[filters.Offset:]
		} else if filters.Offset >= len(result) {
			result = []*Entry{}
		}
		if filters.Limit > 0 && filters.Limit < len(result) {
			result = result[:filters.Limit]
		}
	}

	return result, nil
}

func (q *MemoryQueue) Replay(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.entries[id]
	if !exists {
		return ErrNotFound
	}
	now := time.Now()
	entry.Replayed = true
	entry.ReplayedAt = &now
	return nil
}

func (q *MemoryQueue) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[id]; !exists {
		return ErrNotFound
	}
	delete(q.entries, id)
	return nil
}

func (q *MemoryQueue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make(map[string]*Entry)
	return nil
}

func (q *MemoryQueue) Count(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries), nil
}

// Manager records permanently-failed tasks into the underlying Queue, called
// by the WorkerEngine after a task's terminal-failed transition.
type Manager struct {
	queue              Queue
	onEntryAdded       func(*Entry)
	onThresholdReached func(count int)
	threshold          int
}

func NewManager(queue Queue, threshold int) *Manager {
	return &Manager{queue: queue, threshold: threshold}
}

// AddFailedTask records taskInfo's terminal failure against graphName/instanceID/
// taskName/host, as observed by the WorkerEngine after TaskExecution reaches
// failed (nonzero executor exit) or prepfailed (resource ensure failed after
// its retries).
func (m *Manager) AddFailedTask(ctx context.Context, taskInfo *models.TaskInfo, graphName, instanceID, taskName, host string) error {
	errorMessage := taskInfo.ExecStats.PrepMsg

	entry := &Entry{
		ID:           taskInfo.TaskID,
		TaskID:       taskInfo.TaskID,
		GraphName:    graphName,
		InstanceID:   instanceID,
		TaskName:     taskName,
		Host:         host,
		FinalState:   taskInfo.ExecStats.State,
		FailureTime:  time.Now(),
		Retcode:      taskInfo.ExecStats.Retcode,
		ErrorMessage: errorMessage,
		Metadata:     make(map[string]interface{}),
		Replayed:     false,
	}

	if err := m.queue.Add(ctx, entry); err != nil {
		return err
	}

	if m.onEntryAdded != nil {
		m.onEntryAdded(entry)
	}

	if m.threshold > 0 {
		count, err := m.queue.Count(ctx)
		if err == nil && count >= m.threshold {
			if m.onThresholdReached != nil {
				m.onThresholdReached(count)
			}
		}
	}

	return nil
}

func (m *Manager) OnEntryAdded(callback func(*Entry)) { m.onEntryAdded = callback }

func (m *Manager) OnThresholdReached(callback func(count int)) { m.onThresholdReached = callback }

func (m *Manager) GetQueue() Queue { return m.queue }

func (e *Entry) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func FromJSON(data string) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
