// Package runs records the history of job executions.
package runs

import (
	"context"
	"errors"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/job"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one recorded job execution.
type Run struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	SourceStore  string    `json:"source_store"`
	SourceCount  int       `json:"source_count"`
	SinkStore    string    `json:"sink_store"`
	SinkTable    string    `json:"sink_table"`
	SaveMode     string    `json:"save_mode"`
	DryRun       bool      `json:"dry_run"`
	Success      bool      `json:"success"`
	Skipped      bool      `json:"skipped,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RowsWritten  int64     `json:"rows_written"`
	SinkVersion  *int64    `json:"sink_version,omitempty"`
}

// Filter selects runs. Zero fields match everything.
type Filter struct {
	SinkStore string
	SinkTable string
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// DefaultLimit caps List when Filter.Limit is zero.
const DefaultLimit = 100

// Store persists runs.
type Store interface {
	// Record saves a run.
	Record(ctx context.Context, run Run) error

	// Get returns the run with id or ErrNotFound.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]Run, error)

	// Count returns the number of runs matching filter, ignoring Limit and Offset.
	Count(ctx context.Context, filter Filter) (int, error)

	// Close releases resources.
	Close() error
}

// FromReport converts a finished job into a run record.
func FromReport(r *job.Report) Run {
	run := Run{
		ID:         r.JobID,
		StartedAt:  r.StartedAt.UTC(),
		DurationMS: r.Duration.Milliseconds(),
		SaveMode:   string(r.Mode),
		Success:    r.Success(),
	}
	if req := r.Request; req != nil {
		run.SourceStore = req.Source.Store
		run.SourceCount = len(req.Source.Tables)
		run.SinkStore = req.Sink.Store
		run.SinkTable = req.Sink.Table
		run.DryRun = req.IsDryRun()
	}
	if resp := r.Response; resp != nil {
		run.Skipped = resp.Skipped
		run.RowsWritten = resp.RowsWritten
		run.SinkVersion = resp.SinkVersion
	}
	if r.Err != nil {
		run.ErrorKind = string(job.KindOf(r.Err))
		run.ErrorMessage = r.Err.Error()
	}
	return run
}
