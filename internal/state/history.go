package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryEntry records one observed state transition for audit purposes.
// EntityID is Dedalus's own opaque instance_id/task_id string, not
// necessarily a UUID, so it is stored as text rather than a uuid column.
type HistoryEntry struct {
	ID         uuid.UUID              `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	EntityType string                 `gorm:"type:varchar(50);not null;index:idx_state_history_entity" json:"entity_type"`
	EntityID   string                 `gorm:"type:varchar(255);not null;index:idx_state_history_entity" json:"entity_id"`
	OldState   *string                `gorm:"type:varchar(50)" json:"old_state"`
	NewState   string                 `gorm:"type:varchar(50);not null" json:"new_state"`
	ChangedAt  time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_state_history_changed_at" json:"changed_at"`
	Metadata   map[string]interface{} `gorm:"type:jsonb;default:'{}'" json:"metadata"`
}

func (HistoryEntry) TableName() string {
	return "state_history"
}

// HistoryTracker persists observed transitions to Postgres via gorm.
type HistoryTracker struct {
	db *gorm.DB
}

func NewHistoryTracker(db *gorm.DB) *HistoryTracker {
	return &HistoryTracker{db: db}
}

func (h *HistoryTracker) Record(ctx context.Context, entityType, entityID, oldState, newState string, metadata map[string]interface{}) error {
	var oldStateStr *string
	if oldState != "" {
		oldStateStr = &oldState
	}

	entry := HistoryEntry{
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   oldStateStr,
		NewState:   newState,
		ChangedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}

	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record state history: %w", err)
	}
	return nil
}

func (h *HistoryTracker) GetHistory(ctx context.Context, entityType, entityID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("changed_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("get state history: %w", err)
	}
	return entries, nil
}

func (h *HistoryTracker) GetRecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).Order("changed_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("get recent history: %w", err)
	}
	return entries, nil
}

// HistoryPublisher adapts HistoryTracker to EventPublisher so it composes
// with RedisPublisher inside a MultiPublisher.
type HistoryPublisher struct {
	tracker *HistoryTracker
}

func NewHistoryPublisher(db *gorm.DB) *HistoryPublisher {
	return &HistoryPublisher{tracker: NewHistoryTracker(db)}
}

func (p *HistoryPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.tracker.Record(ctx, event.EntityType, event.EntityID, event.OldState, event.NewState, event.Metadata)
}

// MarshalJSON renders Metadata as a string for readability in log sinks.
func (h *HistoryEntry) MarshalJSON() ([]byte, error) {
	type Alias HistoryEntry
	return json.Marshal(&struct {
		*Alias
		Metadata string `json:"metadata"`
	}{
		Alias:    (*Alias)(h),
		Metadata: fmt.Sprintf("%v", h.Metadata),
	})
}
