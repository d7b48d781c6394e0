package obs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", input, got, want)
		}
	}
}

func TestConfigureLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	ConfigureLogger(&buf, "warn")
	t.Cleanup(func() { ConfigureLogger(os.Stdout, "info") })

	Logger().Info("dropped")
	Logger().Warn("kept", "request_id", "r1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["request_id"] != "r1" || entry["service"] != "auditdesk" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/requests/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+id, nil))
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/requests/{id}", "418"))
	if got != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(emailsTotal.WithLabelValues("welcome", "failed"))
	ObserveEmail("welcome", "failed")
	if got := testutil.ToFloat64(emailsTotal.WithLabelValues("welcome", "failed")); got != before+1 {
		t.Fatalf("email counter = %v, want %v", got, before+1)
	}
	Init()
	Init()
}
