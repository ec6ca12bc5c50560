package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (pipeline or dependency issues).
	OutcomeError = "error"
	// OutcomeCached labels predictions answered from the result cache.
	OutcomeCached = "cached"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

const namespace = "mirador_leads"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of prediction requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_seconds",
			Help:      "End-to-end prediction latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	scoredLeadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scored_leads_total",
			Help:      "Scored leads partitioned by assigned priority.",
		},
		[]string{"priority"},
	)

	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs partitioned by status.",
		},
		[]string{"status"},
	)

	trainingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_seconds",
			Help:      "Model training latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_seconds",
			Help:      "Latency of each prediction pipeline stage in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		},
		[]string{"stage"},
	)

	driftAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_alerts_total",
			Help:      "Scored batches whose inputs drifted from the training medians.",
		},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Prediction cache lookups partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches mirador-leads collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionDurationSeconds,
		scoredLeadsTotal,
		trainingRunsTotal,
		trainingDurationSeconds,
		stageDurationSeconds,
		driftAlertsTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records a prediction duration and outcome label.
func ObservePrediction(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeCached:
	default:
		outcome = OutcomeSuccess
	}
	predictionsTotal.WithLabelValues(outcome).Inc()
	predictionDurationSeconds.Observe(nonNegative(duration).Seconds())
}

// ObserveLeads adds scored lead counts per priority.
func ObserveLeads(high, medium, low int) {
	scoredLeadsTotal.WithLabelValues("High").Add(float64(high))
	scoredLeadsTotal.WithLabelValues("Medium").Add(float64(medium))
	scoredLeadsTotal.WithLabelValues("Low").Add(float64(low))
}

// ObserveTraining records a training run.
func ObserveTraining(duration time.Duration, status string) {
	if status != OutcomeError {
		status = OutcomeSuccess
	}
	trainingRunsTotal.WithLabelValues(status).Inc()
	trainingDurationSeconds.Observe(nonNegative(duration).Seconds())
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(nonNegative(duration).Seconds())
}

// ObserveDriftAlert counts a drifted batch.
func ObserveDriftAlert() {
	driftAlertsTotal.Inc()
}

// ObserveCacheLookup counts a cache lookup by result.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
