// Package metrics holds the Prometheus collectors for refreshes, jobs and partitions.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

const namespace = "trendvault"

// Metrics implements trending.Recorder, partition.Recorder and a queue event sink.
type Metrics struct {
	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	partitions      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job attempts by queue, job name and outcome.",
		}, []string{"queue", "job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"queue", "job"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trending_refresh_total",
			Help:      "Trending refreshes by platform, region and outcome.",
		}, []string{"platform", "region", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trending_refresh_duration_seconds",
			Help:      "Duration of trending refreshes that reached the platform.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      "Partition ensure results by table and status.",
		}, []string{"table", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.jobDuration, m.refreshes, m.refreshDuration, m.partitions)
	}
	return m
}

// ObserveRefresh records one refresh. Skipped refreshes carry no duration.
func (m *Metrics) ObserveRefresh(platform, region, outcome string, duration time.Duration) {
	m.refreshes.WithLabelValues(platform, region, outcome).Inc()
	if duration > 0 {
		m.refreshDuration.WithLabelValues(platform).Observe(duration.Seconds())
	}
}

func (m *Metrics) ObservePartition(table, status string) {
	m.partitions.WithLabelValues(table, status).Inc()
}

// ObserveJob records a job event. Its signature matches queue.EventSink.
func (m *Metrics) ObserveJob(_ context.Context, ev queue.Event) error {
	m.jobs.WithLabelValues(ev.Queue, ev.JobName, string(ev.Outcome)).Inc()
	m.jobDuration.WithLabelValues(ev.Queue, ev.JobName).Observe(ev.Duration.Seconds())
	return nil
}
