package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tale_worker_jobs_received_total",
			Help: "Total number of generation jobs received by the worker.",
		},
	)
	jobsSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tale_worker_jobs_succeeded_total",
			Help: "Total number of generation jobs completed successfully.",
		},
	)
	jobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tale_worker_jobs_failed_total",
			Help: "Total number of generation jobs failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	jobsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tale_worker_jobs_skipped_total",
			Help: "Total number of deliveries skipped because the job was not pending (duplicate delivery).",
		},
	)
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tale_worker_job_duration_seconds",
			Help:    "Histogram of full job processing durations.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind", "status"},
	)
)

func metricsIncrementJobReceived() {
	jobsReceived.Inc()
}

func metricsIncrementJobSucceeded() {
	jobsSucceeded.Inc()
}

func metricsIncrementJobFailed(reason string) {
	jobsFailed.WithLabelValues(reason).Inc()
}

func metricsIncrementJobSkipped() {
	jobsSkipped.Inc()
}

func metricsRecordJobDuration(kind, status string, d time.Duration) {
	jobDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}
