package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentModel is the single table backing every Store collection, keyed
// by the fully-prefixed key (e.g. "graphs/g1/3", "instances/abc"). It
// generalizes the teacher's per-entity relational tables
// (DAGModel/DAGRunModel/...) into the one generic JSON-document table
// spec.md §4.2 calls for.
type documentModel struct {
	Key       string    `gorm:"column:key;type:varchar(512);primaryKey"`
	Doc       string    `gorm:"column:doc;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (documentModel) TableName() string { return "documents" }

// PostgresDocumentStore implements Store over a single gorm/Postgres table.
// Every Put is a single upsert statement, executed and returned before Put
// yields control, satisfying the single-put-durable requirement (§4.2).
// Collection returns a view with an extended key prefix, so one table
// safely holds graphs/, instances/, schedules/, and tasks/ without collision.
type PostgresDocumentStore struct {
	db     *gorm.DB
	prefix string
}

// NewPostgresDocumentStore constructs the root Store backed by db. Run the
// "documents" table migration (see migrations/) before first use.
func NewPostgresDocumentStore(db *gorm.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

func (s *PostgresDocumentStore) fullKey(key string) string {
	return s.prefix + key
}

func (s *PostgresDocumentStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var row documentModel
	err := s.db.WithContext(ctx).
		Where("key = ?", s.fullKey(key)).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage get %s: %w", key, err)
	}
	return json.RawMessage(row.Doc), nil
}

func (s *PostgresDocumentStore) Put(ctx context.Context, key string, doc json.RawMessage) error {
	row := documentModel{
		Key:       s.fullKey(key),
		Doc:       string(doc),
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresDocumentStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ?", s.fullKey(key)).
		Delete(&documentModel{}).Error
	if err != nil {
		return fmt.Errorf("storage delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresDocumentStore) Iterate(ctx context.Context, prefix, from, to string) ([]Entry, error) {
	fullPrefix := s.fullKey(prefix)
	query := s.db.WithContext(ctx).
		Where("key LIKE ?", escapeLike(fullPrefix)+"%").
		Order("key ASC")

	if from != "" {
		query = query.Where("key >= ?", s.fullKey(from))
	}
	if to != "" {
		query = query.Where("key < ?", s.fullKey(to))
	}

	var rows []documentModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage iterate %s: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Key: strings.TrimPrefix(row.Key, s.prefix),
			Doc: json.RawMessage(row.Doc),
		})
	}
	return entries, nil
}

func (s *PostgresDocumentStore) Collection(prefix string) Store {
	return &PostgresDocumentStore{db: s.db, prefix: s.prefix + prefix}
}

// escapeLike escapes LIKE metacharacters in a key prefix so literal '%'/'_'
// in graph or instance names cannot widen a prefix scan.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
