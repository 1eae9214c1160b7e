// Package observability wires Prometheus metrics for the HTTP API and the
// quotation workflow.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/cota-system/cota/internal/jobs"
)

// Metrics collects the application Prometheus metrics on its own registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	invitations     *prometheus.CounterVec
	responses       prometheus.Counter
	importRows      *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, domain and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cota_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cota_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invitations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cota_invitations_total",
		Help: "Supplier invitations by outcome.",
	}, []string{"result"})
	responses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cota_responses_total",
		Help: "Supplier responses received through the portal.",
	})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cota_import_rows_total",
		Help: "Spreadsheet rows processed by import kind and outcome.",
	}, []string{"kind", "outcome"})
	registry.MustRegister(
		requests, duration, invitations, responses, importRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		invitations:     invitations,
		responses:       responses,
		importRows:      importRows,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
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

// Jobs returns the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// ObserveInvitation counts an invitation outcome such as queued, sent or failed.
func (m *Metrics) ObserveInvitation(result string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(result).Inc()
}

// ObserveResponse counts one submitted supplier response.
func (m *Metrics) ObserveResponse() {
	if m == nil {
		return
	}
	m.responses.Inc()
}

// ObserveImport counts accepted and rejected spreadsheet rows.
func (m *Metrics) ObserveImport(kind string, accepted, rejected int) {
	if m == nil {
		return
	}
	if accepted > 0 {
		m.importRows.WithLabelValues(kind, "accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		m.importRows.WithLabelValues(kind, "rejected").Add(float64(rejected))
	}
}

// Registerer exposes the registry for custom collectors.
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
