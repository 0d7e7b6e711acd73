package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemoryStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, "a", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	doc, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(doc) != `{"x":1}` {
		t.Fatalf("unexpected doc: %s", doc)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_Collection(t *testing.T) {
	ctx := context.Background()
	root := NewMemoryStore()
	graphs := root.Collection("graphs/")
	instances := root.Collection("instances/")

	if err := graphs.Put(ctx, "g1/0", json.RawMessage(`{"rev":0}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := instances.Put(ctx, "inst1", json.RawMessage(`{"id":"inst1"}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if _, err := graphs.Get(ctx, "inst1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected graphs collection isolated from instances, got %v", err)
	}

	doc, err := graphs.Get(ctx, "g1/0")
	if err != nil {
		t.Fatalf("get from collection failed: %v", err)
	}
	if string(doc) != `{"rev":0}` {
		t.Fatalf("unexpected doc: %s", doc)
	}

	rootDoc, err := root.Get(ctx, "graphs/g1/0")
	if err != nil {
		t.Fatalf("expected root view to see the same key, got %v", err)
	}
	if string(rootDoc) != `{"rev":0}` {
		t.Fatalf("unexpected doc via root view: %s", rootDoc)
	}
}

func TestMemoryStore_IteratePrefixAndRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	graphs := s.Collection("graphs/g1/")

	for _, rev := range []string{"0", "1", "2"} {
		if err := graphs.Put(ctx, rev, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	other := s.Collection("graphs/g2/")
	if err := other.Put(ctx, "0", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	entries, err := graphs.Iterate(ctx, "", "", "")
	if err != nil {
		t.Fatalf("iterate failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries scoped to g1, got %d", len(entries))
	}

	ranged, err := graphs.Iterate(ctx, "", "1", "2")
	if err != nil {
		t.Fatalf("ranged iterate failed: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Key != "1" {
		t.Fatalf("expected only key 1 in range [1,2), got %v", ranged)
	}
}

func TestGetPutJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type doc struct {
		Name string `json:"name"`
	}

	if err := PutJSON(ctx, s, "k", doc{Name: "hi"}); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	var out doc
	if err := GetJSON(ctx, s, "k", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Name != "hi" {
		t.Fatalf("unexpected value: %+v", out)
	}
}
