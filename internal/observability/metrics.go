// Package observability exposes Prometheus metrics for the HTTP layer, the approval
// engine and the access decision point.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "approval"

type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	completions     *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	configErrors    *prometheus.CounterVec
	accessDenied    *prometheus.CounterVec
	policyRefreshes *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Approve and reject decisions recorded on approval steps.",
		}, []string{"workflow_type", "decision"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_completed_total",
			Help:      "Approval instances that reached a terminal status.",
		}, []string{"workflow_type", "status"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_timeouts_total",
			Help:      "Overdue steps handled by the timeout sweep, by policy.",
		}, []string{"policy"}),
		configErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "configuration_errors_total",
			Help:      "Instances blocked by a configuration error.",
		}, []string{"code"}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Requests refused by a permission check.",
		}, []string{"route"}),
		policyRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_refreshes_total",
			Help:      "Policy snapshot reloads by outcome.",
		}, []string{"origin", "outcome"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.decisions, m.completions, m.timeouts, m.configErrors,
		m.accessDenied, m.policyRefreshes,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

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

func (m *Metrics) ObserveDecision(workflowType, decision string) {
	m.decisions.WithLabelValues(workflowType, decision).Inc()
}

func (m *Metrics) ObserveCompletion(workflowType, status string) {
	m.completions.WithLabelValues(workflowType, status).Inc()
}

func (m *Metrics) ObserveTimeout(policy string) {
	m.timeouts.WithLabelValues(policy).Inc()
}

func (m *Metrics) ObserveConfigurationError(code string) {
	m.configErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveAccessDenied(route string) {
	m.accessDenied.WithLabelValues(route).Inc()
}

func (m *Metrics) ObservePolicyRefresh(origin string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.policyRefreshes.WithLabelValues(origin, outcome).Inc()
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
