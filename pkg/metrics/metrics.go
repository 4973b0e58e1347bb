package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	UploadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_upload_attempts_total",
		Help: "The total number of upload attempts by status",
	}, []string{"host", "status"})

	UploadAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_upload_attempt_seconds",
		Help:    "Time taken by a single upload attempt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms doubling up to ~25s
	}, []string{"host"})

	UploadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_upload_errors_total",
		Help: "Total number of failed upload attempts by error type",
	}, []string{"host", "error_type"})

	RetriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_retries_scheduled_total",
		Help: "The total number of retries scheduled after a failed attempt",
	}, []string{"host"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_jobs_completed_total",
		Help: "The total number of upload jobs that reached a terminal state",
	}, []string{"outcome"})

	RetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_retries_exhausted_total",
		Help: "Number of upload jobs that used their whole retry budget",
	}, []string{"host", "error_type"})

	InFlightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatcher_inflight_jobs",
		Help: "The number of upload jobs that have not reached a terminal state",
	})

	BatchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_batches_completed_total",
		Help: "The total number of dispatched batches by outcome",
	}, []string{"outcome"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_batch_seconds",
		Help:    "Time taken for a whole batch to settle",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_batch_jobs",
		Help:    "Number of jobs per dispatched batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_dead_letters_total",
		Help: "Number of exhausted jobs written to the dead-letter log",
	})

	DeadLetterErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_dead_letter_errors_total",
		Help: "Number of exhausted jobs that could not be written to the dead-letter log",
	})
)
