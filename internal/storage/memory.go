package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by cmd/worker as its
// task store when DB_HOST is unset; it satisfies the same durability-ordering contract as
// PostgresDocumentStore (a Put is visible to any subsequent Get) without a
// database dependency.
type MemoryStore struct {
	mu     *sync.RWMutex
	docs   map[string]json.RawMessage
	prefix string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:   &sync.RWMutex{},
		docs: make(map[string]json.RawMessage),
	}
}

func (s *MemoryStore) fullKey(key string) string { return s.prefix + key }

func (s *MemoryStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[s.fullKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(json.RawMessage, len(doc))
	copy(cp, doc)
	s.docs[s.fullKey(key)] = cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, s.fullKey(key))
	return nil
}

func (s *MemoryStore) Iterate(ctx context.Context, prefix, from, to string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullPrefix := s.fullKey(prefix)
	var keys []string
	for k := range s.docs {
		if !strings.HasPrefix(k, fullPrefix) {
			continue
		}
		if from != "" && k < s.fullKey(from) {
			continue
		}
		if to != "" && k >= s.fullKey(to) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{
			Key: strings.TrimPrefix(k, s.prefix),
			Doc: s.docs[k],
		})
	}
	return entries, nil
}

func (s *MemoryStore) Collection(prefix string) Store {
	return &MemoryStore{mu: s.mu, docs: s.docs, prefix: s.prefix + prefix}
}
