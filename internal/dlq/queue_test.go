package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/luckygeck/dedalus/pkg/models"
)

func TestMemoryQueue_AddAndGet(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	entry := &Entry{
		ID:          "task1",
		TaskID:      "task1",
		GraphName:   "g1",
		InstanceID:  "inst1",
		TaskName:    "extract",
		Host:        "host-a",
		FinalState:  "failed",
		FailureTime: time.Now(),
	}

	if err := q.Add(ctx, entry); err != nil {
		t.Fatalf("Failed to add entry: %v", err)
	}

	retrieved, err := q.Get(ctx, "task1")
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if retrieved.ID != entry.ID {
		t.Errorf("Expected ID %s, got %s", entry.ID, retrieved.ID)
	}
}

func TestMemoryQueue_AddDuplicate(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	entry := &Entry{ID: "task1", GraphName: "g1", FailureTime: time.Now()}

	if err := q.Add(ctx, entry); err != nil {
		t.Fatalf("Failed to add entry: %v", err)
	}
	if err := q.Add(ctx, entry); err != ErrAlreadyExists {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryQueue_GetNotFound(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if _, err := q.Get(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryQueue_ListWithFilters(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	entries := []*Entry{
		{ID: "e1", GraphName: "g1", TaskName: "extract", FailureTime: time.Now(), Replayed: false},
		{ID: "e2", GraphName: "g1", TaskName: "load", FailureTime: time.Now(), Replayed: false},
		{ID: "e3", GraphName: "g2", TaskName: "extract", FailureTime: time.Now(), Replayed: true},
	}
	for _, entry := range entries {
		q.Add(ctx, entry)
	}

	filtered, err := q.List(ctx, &Filters{GraphName: "g1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 entries for g1, got %d", len(filtered))
	}

	filtered, err = q.List(ctx, &Filters{TaskName: "extract"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 entries for extract, got %d", len(filtered))
	}

	replayed := false
	filtered, err = q.List(ctx, &Filters{Replayed: &replayed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 non-replayed entries, got %d", len(filtered))
	}
}

func TestMemoryQueue_ListWithPagination(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		q.Add(ctx, &Entry{ID: string(rune('a' + i)), GraphName: "g1", FailureTime: time.Now()})
	}

	limited, err := q.List(ctx, &Filters{Limit: 5})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 5 {
		t.Errorf("Expected 5 entries with limit, got %d", len(limited))
	}

	page, err := q.List(ctx, &Filters{Offset: 5, Limit: 3})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 3 {
		t.Errorf("Expected 3 entries with offset and limit, got %d", len(page))
	}
}

func TestMemoryQueue_Replay(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	entry := &Entry{ID: "task1", GraphName: "g1", FailureTime: time.Now()}
	q.Add(ctx, entry)

	if err := q.Replay(ctx, "task1"); err != nil {
		t.Fatalf("Failed to replay entry: %v", err)
	}

	retrieved, _ := q.Get(ctx, "task1")
	if !retrieved.Replayed {
		t.Error("Entry should be marked as replayed")
	}
	if retrieved.ReplayedAt == nil {
		t.Error("ReplayedAt should be set")
	}
}

func TestMemoryQueue_DeletePurgeCount(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.Add(ctx, &Entry{ID: string(rune('a' + i)), GraphName: "g1", FailureTime: time.Now()})
	}

	count, _ := q.Count(ctx)
	if count != 5 {
		t.Errorf("Expected 5 entries, got %d", count)
	}

	if err := q.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := q.Get(ctx, "a"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after deletion, got %v", err)
	}

	if err := q.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	count, _ = q.Count(ctx)
	if count != 0 {
		t.Errorf("Expected 0 entries after purge, got %d", count)
	}
}

func TestManager_AddFailedTask(t *testing.T) {
	q := NewMemoryQueue()
	m := NewManager(q, 10)
	ctx := context.Background()

	retcode := 1
	taskInfo := &models.TaskInfo{
		TaskID: "task1",
		ExecStats: models.TaskExecStats{
			State:   "failed",
			Retcode: &retcode,
			PrepMsg: "resource fetch failed after 3 attempts",
		},
	}

	if err := m.AddFailedTask(ctx, taskInfo, "g1", "inst1", "extract", "host-a"); err != nil {
		t.Fatalf("AddFailedTask failed: %v", err)
	}

	entry, err := q.Get(ctx, "task1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.TaskName != "extract" || entry.Host != "host-a" || entry.FinalState != "failed" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestManager_OnEntryAddedAndThreshold(t *testing.T) {
	q := NewMemoryQueue()
	m := NewManager(q, 3)
	ctx := context.Background()

	var added int
	thresholdReached := false
	m.OnEntryAdded(func(entry *Entry) { added++ })
	m.OnThresholdReached(func(count int) { thresholdReached = true })

	for i := 0; i < 3; i++ {
		taskInfo := &models.TaskInfo{TaskID: string(rune('a' + i)), ExecStats: models.TaskExecStats{State: "failed"}}
		if err := m.AddFailedTask(ctx, taskInfo, "g1", "inst1", "extract", "host-a"); err != nil {
			t.Fatalf("AddFailedTask failed: %v", err)
		}
	}

	if added != 3 {
		t.Errorf("expected 3 onEntryAdded callbacks, got %d", added)
	}
	if !thresholdReached {
		t.Error("OnThresholdReached callback was not called")
	}
}

func TestEntry_ToJSONAndFromJSON(t *testing.T) {
	entry := &Entry{
		ID:           "task1",
		GraphName:    "g1",
		InstanceID:   "inst1",
		TaskName:     "extract",
		Host:         "host-a",
		FinalState:   "failed",
		FailureTime:  time.Now(),
		ErrorMessage: "boom",
		Metadata:     map[string]interface{}{"key": "value"},
	}

	jsonStr, err := entry.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if jsonStr == "" {
		t.Error("JSON string should not be empty")
	}

	parsed, err := FromJSON(jsonStr)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if parsed.ID != entry.ID || parsed.TaskName != entry.TaskName {
		t.Errorf("round-trip mismatch: %+v", parsed)
	}
}
