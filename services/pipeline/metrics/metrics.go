package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the meeting pipeline.
type Metrics struct {
	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge

	STTOutstanding prometheus.Gauge
	MergesInFlight prometheus.Gauge

	ChunksMerged  prometheus.Counter
	ChunksSkipped prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New registers all pipeline metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by kind",
		}, []string{"kind"}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by kind and status",
		}, []string{"kind", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Time from job start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"kind"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_job_queue_depth",
			Help: "Current number of jobs waiting in the shared queue",
		}),
		STTOutstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_stt_outstanding",
			Help: "Transcription jobs currently queued or running across all meetings",
		}),
		MergesInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_merges_in_flight",
			Help: "Merge jobs currently queued or running across all meetings",
		}),
		ChunksMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_chunks_merged_total",
			Help: "Total number of chunks concatenated into merged artifacts",
		}),
		ChunksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_chunks_skipped_total",
			Help: "Total number of undecodable chunks skipped during merges",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_http_requests_total",
			Help: "Total number of HTTP requests handled by the record gateway",
		}, []string{"method", "endpoint", "status_code"}),
	}
}

func (m *Metrics) RecordEnqueued(kind string) {
	m.JobsEnqueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCompleted(kind, status string, durationSeconds float64) {
	m.JobsCompleted.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(durationSeconds)
}

func (m *Metrics) RecordMerge(merged, skipped int) {
	m.ChunksMerged.Add(float64(merged))
	m.ChunksSkipped.Add(float64(skipped))
}
