package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	entriesPosted     *prometheus.CounterVec
	mappingUnresolved *prometheus.CounterVec
	txRetries         *prometheus.CounterVec
	stockMovements    *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	integrityFindings prometheus.Gauge
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resto_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_journal_entries_posted_total",
		Help: "Journal entries committed, by originating operation.",
	}, []string{"source"})
	unresolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_mapping_unresolved_total",
		Help: "Postings skipped because an account mapping did not resolve.",
	}, []string{"event_key"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_tx_retries_total",
		Help: "Transactions retried after a serialization failure or deadlock.",
	}, []string{"operation"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_inventory_movements_total",
		Help: "Inventory transactions appended, by type.",
	}, []string{"type"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resto_jobs_total",
		Help: "Background job runs by task and outcome.",
	}, []string{"task", "status"})
	integrity := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resto_gl_imbalanced_entries",
		Help: "Imbalanced journal entries found by the last integrity scan.",
	})
	registry.MustRegister(requests, duration, entries, unresolved, retries, movements, jobs, integrity)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		entriesPosted:     entries,
		mappingUnresolved: unresolved,
		txRetries:         retries,
		stockMovements:    movements,
		jobsTotal:         jobs,
		integrityFindings: integrity,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted counts a committed journal entry.
func (m *Metrics) EntryPosted(source string) {
	if m == nil {
		return
	}
	m.entriesPosted.WithLabelValues(source).Inc()
}

// MappingUnresolved counts a posting skipped under the fail-open mapping policy.
func (m *Metrics) MappingUnresolved(eventKey string) {
	if m == nil {
		return
	}
	m.mappingUnresolved.WithLabelValues(eventKey).Inc()
}

// TxRetry counts a retried transaction.
func (m *Metrics) TxRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

// StockMovement counts an appended inventory transaction.
func (m *Metrics) StockMovement(kind string) {
	if m == nil {
		return
	}
	m.stockMovements.WithLabelValues(kind).Inc()
}

// JobRun counts a background job execution.
func (m *Metrics) JobRun(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// IntegrityFindings records the result of the last GL integrity scan.
func (m *Metrics) IntegrityFindings(n int) {
	if m == nil {
		return
	}
	m.integrityFindings.Set(float64(n))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
