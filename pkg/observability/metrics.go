package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitDecisions  *prometheus.CounterVec

	// Search metrics
	SearchDuration      prometheus.Histogram
	SearchResults       prometheus.Histogram
	ZeroResultSearches  prometheus.Counter
	StrategyDuration    *prometheus.HistogramVec
	StrategyFailures    *prometheus.CounterVec
	FacetFailures       *prometheus.CounterVec
	SynonymCacheLookups *prometheus.CounterVec

	// Background work
	TelemetryFailures prometheus.Counter
	SavedSearchChecks *prometheus.CounterVec
	AlertsCreated     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawprint_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_http_rate_limit_decisions_total",
				Help: "Rate limiter decisions by outcome (allowed, limited, error)",
			},
			[]string{"outcome"},
		),

		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pawprint_search_duration_seconds",
				Help:    "End-to-end search duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pawprint_search_results",
				Help:    "Number of merged results per search before pagination",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
			},
		),
		ZeroResultSearches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pawprint_search_zero_results_total",
				Help: "Total number of searches that returned no results",
			},
		),
		StrategyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawprint_search_strategy_duration_seconds",
				Help:    "Per entity type strategy duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity_type"},
		),
		StrategyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_search_strategy_failures_total",
				Help: "Total number of strategy calls that failed or timed out",
			},
			[]string{"entity_type"},
		),
		FacetFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_search_facet_failures_total",
				Help: "Total number of facet computations that failed",
			},
			[]string{"facet"},
		),
		SynonymCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_synonym_cache_lookups_total",
				Help: "Synonym cache lookups by result",
			},
			[]string{"result"},
		),

		TelemetryFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pawprint_search_telemetry_failures_total",
				Help: "Total number of telemetry records that could not be written",
			},
		),
		SavedSearchChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawprint_saved_search_checks_total",
				Help: "Total number of saved search checks",
			},
			[]string{"status"},
		),
		AlertsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pawprint_search_alerts_created_total",
				Help: "Total number of search alerts created",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.RateLimitDecisions,
			m.SearchDuration,
			m.SearchResults,
			m.ZeroResultSearches,
			m.StrategyDuration,
			m.StrategyFailures,
			m.FacetFailures,
			m.SynonymCacheLookups,
			m.TelemetryFailures,
			m.SavedSearchChecks,
			m.AlertsCreated,
		)
	}

	return m
}

// ObserveSearch records a completed search. Safe on a nil receiver.
func (m *Metrics) ObserveSearch(duration time.Duration, total int) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(duration.Seconds())
	m.SearchResults.Observe(float64(total))
	if total == 0 {
		m.ZeroResultSearches.Inc()
	}
}

// ObserveStrategy records a single strategy invocation. Safe on a nil receiver.
func (m *Metrics) ObserveStrategy(entityType string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StrategyDuration.WithLabelValues(entityType).Observe(duration.Seconds())
	if failed {
		m.StrategyFailures.WithLabelValues(entityType).Inc()
	}
}

// FacetFailed counts a failed facet computation. Safe on a nil receiver.
func (m *Metrics) FacetFailed(facet string) {
	if m == nil {
		return
	}
	m.FacetFailures.WithLabelValues(facet).Inc()
}

// SynonymCacheLookup counts a synonym cache hit or miss. Safe on a nil receiver.
func (m *Metrics) SynonymCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SynonymCacheLookups.WithLabelValues(result).Inc()
}

// RateLimitDecision counts one limiter outcome. Safe on a nil receiver.
func (m *Metrics) RateLimitDecision(outcome string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(outcome).Inc()
}

// TelemetryFailed counts a dropped telemetry record. Safe on a nil receiver.
func (m *Metrics) TelemetryFailed() {
	if m == nil {
		return
	}
	m.TelemetryFailures.Inc()
}

// ObserveCheck records a saved search check outcome. Safe on a nil receiver.
func (m *Metrics) ObserveCheck(status string, alertsCreated int) {
	if m == nil {
		return
	}
	m.SavedSearchChecks.WithLabelValues(status).Inc()
	m.AlertsCreated.Add(float64(alertsCreated))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
