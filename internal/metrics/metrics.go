package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the paywall service.
type Metrics struct {
	// Resolution metrics
	Resolutions       *prometheus.CounterVec
	ResolutionLatency *prometheus.HistogramVec
	Fallbacks         *prometheus.CounterVec
	Skips             *prometheus.CounterVec

	// Event bus metrics
	EventsDispatched *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	ListenerPanics   prometheus.Counter
	ActiveListeners  prometheus.Gauge

	// Session metrics
	ActiveSessions  prometheus.Gauge
	BudgetExpiries  prometheus.Counter
	BudgetCancels   prometheus.Counter
	SessionDuration *prometheus.HistogramVec

	// Config fetch metrics
	Fetches      *prometheus.CounterVec
	FetchLatency prometheus.Histogram

	// Purchase metrics
	PurchaseResults *prometheus.CounterVec
	RestoreResults  *prometheus.CounterVec

	// Sink metrics
	AnalyticsFlushed prometheus.Counter
	AnalyticsDropped prometheus.Counter
	EventStoreErrors prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Trigger resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_latency_seconds",
				Help:      "Trigger resolution latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
			},
			[]string{"outcome"},
		),
		Fallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallback outcomes by reason",
			},
			[]string{"reason"},
		),
		Skips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skips_total",
				Help:      "Skip outcomes by reason",
			},
			[]string{"reason"},
		),

		EventsDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Lifecycle events dispatched by kind",
			},
			[]string{"kind"},
		),
		EventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped due to a full dispatch queue",
			},
		),
		ListenerPanics: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listener_panics_total",
				Help:      "Panics recovered from event listeners and handlers",
			},
		),
		ActiveListeners: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_listeners",
				Help:      "Currently registered global event listeners",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Currently live presentation sessions",
			},
		),
		BudgetExpiries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loading_budget_expiries_total",
				Help:      "Loading budgets that expired before content loaded",
			},
		),
		BudgetCancels: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loading_budget_cancels_total",
				Help:      "Loading budgets cancelled by content arriving in time",
			},
		),
		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session lifetime from resolution to dismissal",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"fallback"},
		),

		Fetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_fetches_total",
				Help:      "Remote config fetch attempts by status",
			},
			[]string{"status"},
		),
		FetchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_fetch_latency_seconds",
				Help:      "Remote config fetch latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		PurchaseResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_results_total",
				Help:      "Delegate purchase results by status",
			},
			[]string{"status"},
		),
		RestoreResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restore_results_total",
				Help:      "Delegate restore results by status",
			},
			[]string{"status"},
		),

		AnalyticsFlushed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_flushed_total",
				Help:      "Events flushed to the analytics sink",
			},
		),
		AnalyticsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_dropped_total",
				Help:      "Events dropped by the analytics sink on overflow",
			},
		),
		EventStoreErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_store_errors_total",
				Help:      "Errors persisting lifecycle events",
			},
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"path"},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordResolution records a resolution outcome with its latency.
func (m *Metrics) RecordResolution(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.ResolutionLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// RecordFallback records a fallback reason.
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// RecordSkip records a skip reason.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(reason).Inc()
}

// RecordDispatch records one event dispatched through the bus.
func (m *Metrics) RecordDispatch(kind string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(kind).Inc()
}

// RecordFetch records a config fetch attempt.
func (m *Metrics) RecordFetch(status string, start time.Time) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(status).Inc()
	m.FetchLatency.Observe(time.Since(start).Seconds())
}

// RecordPurchase records a delegate purchase result.
func (m *Metrics) RecordPurchase(status string) {
	if m == nil {
		return
	}
	m.PurchaseResults.WithLabelValues(status).Inc()
}
