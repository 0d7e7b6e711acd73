package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no document exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Entry is one (key, document) pair yielded by Iterate. Doc is nil when the
// backend only needed to report a key's existence (unused by the current
// backends, kept for forward compatibility with key-only scans).
type Entry struct {
	Key string
	Doc json.RawMessage
}

// Store is the namespaced key-value-over-JSON-documents contract every
// collaborator (master and worker alike) persists through. A single Put
// must be durable before it returns; the store is not required to be
// transactional across keys (spec.md §4.2, §7) — GraphExecutor/TaskExecution
// are written to tolerate a crash between two independent Puts.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Put(ctx context.Context, key string, doc json.RawMessage) error
	Delete(ctx context.Context, key string) error
	// Iterate yields entries whose key starts with prefix, ordered by key,
	// restricted to the half-open range [from, to) when either bound is
	// non-empty.
	Iterate(ctx context.Context, prefix, from, to string) ([]Entry, error)
	// Collection returns a sub-view whose keys are implicitly prefixed with
	// prefix, isolating e.g. "graphs/" from "instances/" in the same
	// underlying backend.
	Collection(prefix string) Store
}

// GetJSON fetches a key and unmarshals it into v. Returns ErrNotFound
// unchanged so callers can distinguish "absent" from other backend errors.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// PutJSON marshals v and persists it durably under key.
func PutJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, raw)
}
