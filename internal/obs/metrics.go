package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	emailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_emails_total",
			Help: "Email dispatch attempts by type and outcome.",
		},
		[]string{"type", "status"},
	)

	archivePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_archive_pushes_total",
			Help: "Document archival pushes by result.",
		},
		[]string{"result"},
	)

	otpEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_otp_events_total",
			Help: "OTP issue and verification events.",
		},
		[]string{"purpose", "result"},
	)

	outboxTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_outbox_tasks_total",
			Help: "Background side-effect tasks by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			emailsTotal, archivePushesTotal, otpEventsTotal, outboxTasksTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per route. The path label is
// the chi route pattern so ids in the URL do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := RoutePattern(r)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePattern returns the matched chi pattern, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// ObserveEmail counts one dispatch attempt.
func ObserveEmail(emailType, status string) {
	emailsTotal.WithLabelValues(emailType, status).Inc()
}

// ObserveArchive counts one archival push.
func ObserveArchive(result string) {
	archivePushesTotal.WithLabelValues(result).Inc()
}

// ObserveOTP counts an OTP issue or verification outcome.
func ObserveOTP(purpose, result string) {
	otpEventsTotal.WithLabelValues(purpose, result).Inc()
}

// ObserveOutbox counts a finished background task.
func ObserveOutbox(kind, result string) {
	outboxTasksTotal.WithLabelValues(kind, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
