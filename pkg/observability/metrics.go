// Package observability exposes Prometheus metrics for the service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	documentsIngested *prometheus.CounterVec
	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	chatTurnsTotal    *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	cacheOps          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_http_requests_total",
			Help: "HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_http_in_flight_requests",
			Help: "Requests currently being served.",
		}),
		documentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_documents_ingested_total",
			Help: "Documents that finished processing, by outcome.",
		}, []string{"outcome"}),
		retrievalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_retrievals_total",
			Help: "Retrieval requests by mode.",
		}, []string{"mode"}),
		retrievalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_retrieval_duration_seconds",
			Help:    "Retrieval latency by mode.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"mode"}),
		chatTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_chat_turns_total",
			Help: "Chat turns by reasoning mode and outcome.",
		}, []string{"reasoning_mode", "outcome"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_rate_limit_rejected_total",
			Help: "Requests rejected by the rate limiter, by endpoint class.",
		}, []string{"class"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_cache_operations_total",
			Help: "Cache operations by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.inFlight,
		m.documentsIngested,
		m.retrievalsTotal,
		m.retrievalDuration,
		m.chatTurnsTotal,
		m.rateLimitRejected,
		m.cacheOps,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDocument(outcome string) {
	m.documentsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetrieval(mode string, elapsed time.Duration) {
	m.retrievalsTotal.WithLabelValues(mode).Inc()
	m.retrievalDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveChatTurn(reasoningMode, outcome string) {
	m.chatTurnsTotal.WithLabelValues(reasoningMode, outcome).Inc()
}

func (m *Metrics) ObserveRateLimitRejection(class string) {
	m.rateLimitRejected.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveCache(result string) {
	m.cacheOps.WithLabelValues(result).Inc()
}

// statusRecorder captures the response code for labeling.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments a route. The route label is the registered
// pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			m.requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
