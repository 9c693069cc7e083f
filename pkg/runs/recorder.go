package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/job"
)

const recordTimeout = 5 * time.Second

// Recorder is a job.Observer that stores every finished job.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// ObserveJob records the job. Storage failures are logged, never returned to
// the job's caller.
func (r *Recorder) ObserveJob(ctx context.Context, report *job.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.Record(ctx, FromReport(report)); err != nil {
		slog.Warn("failed to record job run", "job_id", report.JobID, "error", err)
	}
}

// Verify interface compliance.
var _ job.Observer = (*Recorder)(nil)
