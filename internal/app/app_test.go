package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"auditdesk.io/internal/config"
)

func testConfig(t *testing.T, vars map[string]string) config.Config {
	t.Helper()
	base := map[string]string{"AUDITDESK_AUTH_SECRET": "s3cret"}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	cases := map[string]map[string]string{
		"memory": {"AUDITDESK_KV_BACKEND": "memory"},
		"bolt":   {"AUDITDESK_KV_BACKEND": "bolt", "AUDITDESK_BOLT_PATH": filepath.Join(dir, "kv.db")},
		"redis":  {"AUDITDESK_KV_BACKEND": "redis", "AUDITDESK_REDIS_ADDR": mr.Addr()},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			store, err := OpenStore(ctx, testConfig(t, vars))
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			defer store.Close()
			if err := store.Set(ctx, "k", []byte(`1`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}
		})
	}
}

func TestBuildServesHealth(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"AUDITDESK_BLOB_PATH": filepath.Join(t.TempDir(), "blobs.db"),
	})
	a, err := Build(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	rec := httptest.NewRecorder()
	a.API.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", rec.Code, rec.Body.String())
	}
}
