// Package metrics exposes Prometheus metrics for job execution.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/mcp-lakejobs/pkg/job"
)

const namespace = "lakejobs"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeDryRun  = "dry_run"
	OutcomeSkipped = "skipped"
	OutcomeFailure = "failure"
)

// Metrics holds the job metrics and implements job.Observer.
type Metrics struct {
	jobs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rowsWritten *prometheus.CounterVec
	sources     *prometheus.CounterVec
}

// New creates the job metrics. If reg is non-nil, the metrics are registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs run, by outcome and save mode.",
		}, []string{"outcome", "mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Total number of failed jobs, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"outcome"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Total number of rows committed to sink tables, by sink store.",
		}, []string{"store"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_registered_total",
			Help:      "Total number of sources registered into job sessions, by format.",
		}, []string{"format"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.jobs,
			m.failures,
			m.duration,
			m.rowsWritten,
			m.sources,
		)
	}
	return m
}

// ObserveJob records one finished job.
func (m *Metrics) ObserveJob(_ context.Context, r *job.Report) {
	outcome := outcomeOf(r)
	m.jobs.WithLabelValues(outcome, string(r.Mode)).Inc()
	m.duration.WithLabelValues(outcome).Observe(r.Duration.Seconds())

	if r.Err != nil {
		kind := job.KindOf(r.Err)
		if kind == "" {
			kind = job.KindInternal
		}
		m.failures.WithLabelValues(string(kind)).Inc()
	}
	for format, n := range r.Sources {
		m.sources.WithLabelValues(string(format)).Add(float64(n))
	}
	if r.Response != nil && r.Response.RowsWritten > 0 && r.Request != nil {
		m.rowsWritten.WithLabelValues(r.Request.Sink.Store).Add(float64(r.Response.RowsWritten))
	}
}

func outcomeOf(r *job.Report) string {
	switch {
	case !r.Success():
		return OutcomeFailure
	case r.Response.DryRun:
		return OutcomeDryRun
	case r.Response.Skipped:
		return OutcomeSkipped
	default:
		return OutcomeSuccess
	}
}

// Verify interface compliance.
var _ job.Observer = (*Metrics)(nil)
