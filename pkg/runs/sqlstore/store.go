// Package sqlstore persists job runs in PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-lakejobs/pkg/database"
	"github.com/txn2/mcp-lakejobs/pkg/runs"
)

const (
	defaultRetentionDays = 90
	maxQueryCapacity     = 10000
)

// runColumns lists columns in insert and select order.
var runColumns = []string{
	"id", "started_at", "duration_ms", "source_store", "source_count",
	"sink_store", "sink_table", "save_mode", "dry_run", "success", "skipped",
	"error_kind", "error_message", "rows_written", "sink_version",
}

// Config configures the store.
type Config struct {
	RetentionDays int
}

// Store implements runs.Store on a SQL database.
type Store struct {
	db            *sql.DB
	sb            sq.StatementBuilderType
	retentionDays int
	now           func() time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a store on db. The schema must already be migrated.
func New(db *sql.DB, driver database.Driver, cfg Config) *Store {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		sb:            database.StatementBuilder(driver),
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
	}
}

// Record inserts a run.
func (s *Store) Record(ctx context.Context, run runs.Run) error {
	var version any
	if run.SinkVersion != nil {
		version = *run.SinkVersion
	}
	query, args, err := s.sb.Insert("job_runs").
		Columns(runColumns...).
		Values(
			run.ID, run.StartedAt.UnixMicro(), run.DurationMS, run.SourceStore, run.SourceCount,
			run.SinkStore, run.SinkTable, run.SaveMode, run.DryRun, run.Success, run.Skipped,
			run.ErrorKind, run.ErrorMessage, run.RowsWritten, version,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting job run: %w", err)
	}
	return nil
}

// Get returns a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*runs.Run, error) {
	query, args, err := s.sb.Select(runColumns...).
		From("job_runs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", runs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying job run: %w", err)
	}
	return &run, nil
}

// List returns runs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter runs.Filter) ([]runs.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = runs.DefaultLimit
	}
	if limit > maxQueryCapacity {
		limit = maxQueryCapacity
	}

	qb := applyRunFilter(s.sb.Select(runColumns...).From("job_runs"), filter).
		OrderBy("started_at DESC").
		Limit(uint64(limit)) // #nosec G115 -- limit is clamped to (0, maxQueryCapacity]
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset)) // #nosec G115 -- checked positive above
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying job runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]runs.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job runs: %w", err)
	}
	return result, nil
}

// Count returns the number of runs matching filter, ignoring Limit and Offset.
func (s *Store) Count(ctx context.Context, filter runs.Filter) (int, error) {
	query, args, err := applyRunFilter(s.sb.Select("COUNT(*)").From("job_runs"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting job runs: %w", err)
	}
	return count, nil
}

func applyRunFilter(qb sq.SelectBuilder, filter runs.Filter) sq.SelectBuilder {
	if filter.SinkStore != "" {
		qb = qb.Where(sq.Eq{"sink_store": filter.SinkStore})
	}
	if filter.SinkTable != "" {
		qb = qb.Where(sq.Eq{"sink_table": filter.SinkTable})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"started_at": filter.StartTime.UnixMicro()})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"started_at": filter.EndTime.UnixMicro()})
	}
	return qb
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (runs.Run, error) {
	var (
		run       runs.Run
		startedAt int64
		version   sql.NullInt64
	)
	err := row.Scan(
		&run.ID, &startedAt, &run.DurationMS, &run.SourceStore, &run.SourceCount,
		&run.SinkStore, &run.SinkTable, &run.SaveMode, &run.DryRun, &run.Success, &run.Skipped,
		&run.ErrorKind, &run.ErrorMessage, &run.RowsWritten, &version,
	)
	if err != nil {
		return runs.Run{}, err
	}
	run.StartedAt = time.UnixMicro(startedAt).UTC()
	if version.Valid {
		v := version.Int64
		run.SinkVersion = &v
	}
	return run, nil
}

// Cleanup removes runs older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays).UnixMicro()
	query, args, err := s.sb.Delete("job_runs").Where(sq.Lt{"started_at": cutoff}).ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up job runs: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// expired runs. Close stops it.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the cleanup goroutine. The database handle is owned by the caller.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ runs.Store = (*Store)(nil)
