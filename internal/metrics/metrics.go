// Package metrics provides Prometheus metrics collection for the
// lead-scoring engine. It covers the online scoring path (latency,
// cache, rate limiting), batch processing, and the offline lifecycle
// (training, drift, A/B testing, promotions), exposed via the
// Prometheus metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scoring engine.
type Metrics struct {
	// Online scoring
	ScoresTotal  prometheus.Counter   // Total scoring requests served
	ScoreErrors  prometheus.Counter   // Total scoring failures
	ScoreLatency prometheus.Histogram // End-to-end scoring latency in seconds
	CacheHits    prometheus.Counter   // Cache hits on the scoring path
	CacheMisses  prometheus.Counter   // Cache misses on the scoring path
	RateLimited  prometheus.Counter   // Requests rejected by the rate limiter
	BatchLeads   prometheus.Counter   // Leads processed through batch scoring
	QueueDepth   prometheus.Gauge     // Current batch queue depth
	ScoreValues  prometheus.Histogram // Distribution of produced scores

	// Model lifecycle
	TrainingsTotal   prometheus.Counter   // Training runs started
	TrainingFailures prometheus.Counter   // Training runs that failed
	TrainingSeconds  prometheus.Histogram // Training run duration in seconds
	DriftChecks      prometheus.Counter   // Drift analyses performed
	DriftDetected    prometheus.Counter   // Drift analyses that flagged drift
	Promotions       prometheus.Counter   // Model promotions to active
	ABAssignments    prometheus.Counter   // Requests routed through a running A/B test
	ActiveModelAge   prometheus.Gauge     // Age of the active model in seconds

	// System
	ErrorsTotal prometheus.Counter // Total errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for
// testing without touching the global registry).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ScoresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scores_total",
			Help: "Total scoring requests served",
		}),
		ScoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "score_errors_total",
			Help: "Total scoring failures",
		}),
		ScoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_latency_seconds",
			Help:    "End-to-end scoring latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "score_cache_hits_total",
			Help: "Cache hits on the scoring path",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "score_cache_misses_total",
			Help: "Cache misses on the scoring path",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		BatchLeads: factory.NewCounter(prometheus.CounterOpts{
			Name: "batch_leads_total",
			Help: "Leads processed through batch scoring",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "batch_queue_depth",
			Help: "Current batch queue depth",
		}),
		ScoreValues: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_values",
			Help:    "Distribution of produced conversion scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TrainingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainings_total",
			Help: "Training runs started",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Training runs that failed",
		}),
		TrainingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Training run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		DriftChecks: factory.NewCounter(prometheus.CounterOpts{
			Name: "drift_checks_total",
			Help: "Drift analyses performed",
		}),
		DriftDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "drift_detected_total",
			Help: "Drift analyses that flagged drift",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_promotions_total",
			Help: "Model promotions to active",
		}),
		ABAssignments: factory.NewCounter(prometheus.CounterOpts{
			Name: "ab_assignments_total",
			Help: "Requests routed through a running A/B test",
		}),
		ActiveModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_model_age_seconds",
			Help: "Age of the active model in seconds",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total errors encountered",
		}),
	}
}
