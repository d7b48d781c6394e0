package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"auditdesk.io/internal/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "auditdesk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Set(ctx, "user:1", []byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != `{"id":"1"}` {
		t.Fatalf("unexpected value %s", v)
	}
	if err := s.Delete(ctx, "user:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "user:1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected kv.ErrNotFound, got %v", err)
	}
}

func TestStoreScanStopsAtPrefixBoundary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, k := range []string{"audit_log:02", "audit_log:01", "audit_logs", "email:01"} {
		if err := s.Set(ctx, k, []byte(`{}`)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	recs, err := s.Scan(ctx, "audit_log:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Key != "audit_log:01" {
		t.Fatalf("expected sorted keys, got %q first", recs[0].Key)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPing(t *testing.T) {
	if err := openTestStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
