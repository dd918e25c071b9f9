package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the link rotation service.
type Metrics struct {
	// Redirect metrics
	Redirects        *prometheus.CounterVec
	RedirectLatency  *prometheus.HistogramVec
	RotationDecision *prometheus.CounterVec

	// Tracking metrics
	Clicks            *prometheus.CounterVec
	Conversions       *prometheus.CounterVec
	Revenue           *prometheus.CounterVec
	DuplicateOrders   *prometheus.CounterVec
	TrackingQueueSize prometheus.Gauge
	TrackingRetries   *prometheus.CounterVec
	TrackingDropped   *prometheus.CounterVec

	// Link health metrics
	LinkChecks *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Redirects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redirects_total",
				Help:      "Total redirects served, by outcome",
			},
			[]string{"outcome"}, // resolved, not_found, fallback
		),
		RedirectLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redirect_latency_seconds",
				Help:      "Redirect resolution latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"outcome"},
		),
		RotationDecision: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_decisions_total",
				Help:      "Rotation decisions, by strategy and arm",
			},
			[]string{"strategy", "arm"}, // arm: experiment, control, single
		),
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_recorded_total",
				Help:      "Click events persisted",
			},
			[]string{"product_id"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_recorded_total",
				Help:      "Conversion events persisted",
			},
			[]string{"product_id", "status"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_total",
				Help:      "Revenue recorded from conversions",
			},
			[]string{"product_id", "currency"},
		),
		DuplicateOrders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_orders_total",
				Help:      "Conversion submissions rejected as duplicates",
			},
			[]string{"product_id"},
		),
		TrackingQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracking_queue_depth",
				Help:      "Pending tasks in the tracking queue",
			},
		),
		TrackingRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_retries_total",
				Help:      "Tracking task retries",
			},
			[]string{"task"},
		),
		TrackingDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_dropped_total",
				Help:      "Tracking tasks dropped after exhausting retries or on queue overflow",
			},
			[]string{"task", "reason"}, // reason: overflow, dead_letter
		),
		LinkChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_checks_total",
				Help:      "Outbound link health probes, by result",
			},
			[]string{"result"}, // ok, broken, timeout
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRedirect records a served redirect and its latency.
func (m *Metrics) RecordRedirect(outcome string, latency time.Duration) {
	m.Redirects.WithLabelValues(outcome).Inc()
	m.RedirectLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordRotationDecision records one selector decision.
func (m *Metrics) RecordRotationDecision(strategy, arm string) {
	m.RotationDecision.WithLabelValues(strategy, arm).Inc()
}

// RecordClick records a persisted click event.
func (m *Metrics) RecordClick(productID string) {
	m.Clicks.WithLabelValues(productID).Inc()
}

// RecordConversion records a persisted conversion and its revenue.
func (m *Metrics) RecordConversion(productID, status, currency string, revenue float64) {
	m.Conversions.WithLabelValues(productID, status).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(productID, currency).Add(revenue)
	}
}

// RecordDuplicateOrder records a deduplicated conversion submission.
func (m *Metrics) RecordDuplicateOrder(productID string) {
	m.DuplicateOrders.WithLabelValues(productID).Inc()
}

// RecordTrackingRetry records a retried tracking task.
func (m *Metrics) RecordTrackingRetry(task string) {
	m.TrackingRetries.WithLabelValues(task).Inc()
}

// RecordTrackingDrop records a dropped tracking task.
func (m *Metrics) RecordTrackingDrop(task, reason string) {
	m.TrackingDropped.WithLabelValues(task, reason).Inc()
}

// RecordLinkCheck records a link health probe result.
func (m *Metrics) RecordLinkCheck(result string) {
	m.LinkChecks.WithLabelValues(result).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
