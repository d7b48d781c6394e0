package kv

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, err := s.Get(ctx, "user:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "user:1", []byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"id":"1"}` {
		t.Fatalf("unexpected value %s", got)
	}

	// Returned slices must not alias stored data.
	got[0] = 'x'
	again, _ := s.Get(ctx, "user:1")
	if again[0] != '{' {
		t.Fatalf("stored value was mutated through returned slice")
	}

	if err := s.Delete(ctx, "user:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "user:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryScanIsPrefixedAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range []string{"request:b", "request:a", "requests:x", "document:a:1"} {
		if err := s.Set(ctx, k, []byte(`{}`)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	recs, err := s.Scan(ctx, "request:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Key != "request:a" || recs[1].Key != "request:b" {
		t.Fatalf("unexpected order: %q, %q", recs[0].Key, recs[1].Key)
	}
}

func TestMemoryRejectsEmptyKey(t *testing.T) {
	if err := NewMemory().Set(context.Background(), "", []byte(`{}`)); err == nil {
		t.Fatal("expected error for empty key")
	}
}
