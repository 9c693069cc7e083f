// Package sqlcatalog stores table version logs in PostgreSQL or SQLite.
//
// Each table has one row in lake_tables carrying its current version. A
// commit bumps current_version with a compare-and-set on the version the
// writer read, so concurrent writers to the same table see ErrWriteConflict
// instead of silently interleaving. Data files are recorded with the version
// that added them and, once replaced, the version that removed them.
package sqlcatalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-lakejobs/pkg/database"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// versionColumns lists columns returned by version SELECT queries.
var versionColumns = []string{
	"version", "committed_at", "operation", "schema_json",
	"files_added", "files_removed", "rows_added",
}

// Catalog implements table.Catalog on a SQL database.
type Catalog struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock sets the function used to stamp commits.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// New creates a catalog on db. The schema must already be migrated.
func New(db *sql.DB, driver database.Driver, opts ...Option) *Catalog {
	c := &Catalog{
		db:  db,
		sb:  database.StatementBuilder(driver),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lookup returns the table id and current version.
func (c *Catalog) lookup(ctx context.Context, q queryer, id table.Ident) (int64, int64, error) {
	query, args, err := c.sb.Select("id", "current_version").
		From("lake_tables").
		Where("store = ? AND name = ?", id.Store, id.Name).
		ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("building table lookup: %w", err)
	}

	var tableID, current int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&tableID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, table.ErrTableNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("looking up table %s: %w", id, err)
	}
	return tableID, current, nil
}

// Snapshot returns the table state selected by sel.
func (c *Catalog) Snapshot(ctx context.Context, id table.Ident, sel table.Selector) (*table.Snapshot, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	tableID, _, err := c.lookup(ctx, c.db, id)
	if err != nil {
		return nil, err
	}

	qb := c.sb.Select(versionColumns...).From("lake_table_versions").Where(sq.Eq{"table_id": tableID})
	switch {
	case sel.Version != nil:
		qb = qb.Where(sq.Eq{"version": *sel.Version})
	case sel.Timestamp != nil:
		qb = qb.Where(sq.LtOrEq{"committed_at": sel.Timestamp.UnixMicro()})
	}
	query, args, err := qb.OrderBy("version DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version query: %w", err)
	}

	info, err := scanVersion(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", table.ErrVersionNotFound, sel)
	}
	if err != nil {
		return nil, fmt.Errorf("reading version of %s: %w", id, err)
	}

	files, err := c.liveFiles(ctx, tableID, info.Version)
	if err != nil {
		return nil, err
	}
	return &table.Snapshot{
		Table:     id,
		Version:   info.Version,
		Timestamp: info.Timestamp,
		Schema:    info.Schema,
		Files:     files,
	}, nil
}

func (c *Catalog) liveFiles(ctx context.Context, tableID, version int64) ([]table.DataFile, error) {
	query, args, err := c.sb.Select("path", "row_count", "size_bytes").
		From("lake_table_files").
		Where(sq.Eq{"table_id": tableID}).
		Where(sq.LtOrEq{"added_version": version}).
		Where(sq.Or{sq.Eq{"removed_version": nil}, sq.Gt{"removed_version": version}}).
		OrderBy("added_version", "path").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building file query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying table files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]table.DataFile, 0)
	for rows.Next() {
		var f table.DataFile
		if err := rows.Scan(&f.Path, &f.Rows, &f.Size); err != nil {
			return nil, fmt.Errorf("scanning table file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table files: %w", err)
	}
	return files, nil
}

// Commit appends a version inside one transaction.
func (c *Catalog) Commit(ctx context.Context, req table.CommitRequest) (*table.VersionInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning commit: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := c.now().UTC()
	var tableID, version int64
	removed := 0

	if req.ReadVersion == table.NoVersion {
		tableID, err = c.createTable(ctx, tx, req.Table, now)
		if err != nil {
			return nil, err
		}
	} else {
		tableID, version, removed, err = c.advanceTable(ctx, tx, req)
		if err != nil {
			return nil, err
		}
	}

	if err := c.insertFiles(ctx, tx, tableID, version, req.AddFiles); err != nil {
		return nil, err
	}

	info := table.VersionInfo{
		Version:      version,
		Timestamp:    time.UnixMicro(now.UnixMicro()).UTC(),
		Operation:    req.Operation,
		Schema:       req.Schema,
		FilesAdded:   len(req.AddFiles),
		FilesRemoved: removed,
		RowsAdded:    req.RowsAdded(),
	}
	query, args, err := c.sb.Insert("lake_table_versions").
		Columns("table_id", "version", "committed_at", "operation", "schema_json",
			"files_added", "files_removed", "rows_added").
		Values(tableID, info.Version, now.UnixMicro(), string(info.Operation), string(schemaJSON),
			info.FilesAdded, info.FilesRemoved, info.RowsAdded).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, table.ErrWriteConflict
		}
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	committed = true
	return &info, nil
}

func (c *Catalog) createTable(ctx context.Context, tx *sql.Tx, id table.Ident, now time.Time) (int64, error) {
	query, args, err := c.sb.Insert("lake_tables").
		Columns("store", "name", "current_version", "created_at").
		Values(id.Store, id.Name, 0, now.UnixMicro()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building table insert: %w", err)
	}

	var tableID int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&tableID); err != nil {
		if database.IsUniqueViolation(err) {
			return 0, table.ErrTableExists
		}
		return 0, fmt.Errorf("creating table %s: %w", id, err)
	}
	return tableID, nil
}

// advanceTable moves current_version from the read version to the next one
// and, for replacing commits, retires the live files.
func (c *Catalog) advanceTable(ctx context.Context, tx *sql.Tx, req table.CommitRequest) (int64, int64, int, error) {
	tableID, current, err := c.lookup(ctx, tx, req.Table)
	if err != nil {
		return 0, 0, 0, err
	}
	if current != req.ReadVersion {
		return 0, 0, 0, table.ErrWriteConflict
	}
	next := current + 1

	query, args, err := c.sb.Update("lake_tables").
		Set("current_version", next).
		Where(sq.Eq{"id": tableID}).
		Where(sq.Eq{"current_version": req.ReadVersion}).
		ToSql()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("building version update: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("advancing version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("checking version update: %w", err)
	}
	if n == 0 {
		return 0, 0, 0, table.ErrWriteConflict
	}

	removed := 0
	if req.ReplaceAll {
		query, args, err = c.sb.Update("lake_table_files").
			Set("removed_version", next).
			Where(sq.Eq{"table_id": tableID}).
			Where(sq.Eq{"removed_version": nil}).
			ToSql()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("building file retirement: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("retiring files: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("checking file retirement: %w", err)
		}
		removed = int(count)
	}
	return tableID, next, removed, nil
}

func (c *Catalog) insertFiles(ctx context.Context, tx *sql.Tx, tableID, version int64, files []table.DataFile) error {
	if len(files) == 0 {
		return nil
	}
	ib := c.sb.Insert("lake_table_files").
		Columns("table_id", "path", "row_count", "size_bytes", "added_version")
	for _, f := range files {
		ib = ib.Values(tableID, f.Path, f.Rows, f.Size, version)
	}
	query, args, err := ib.ToSql()
	if err != nil {
		return fmt.Errorf("building file insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting table files: %w", err)
	}
	return nil
}

// History lists versions newest first.
func (c *Catalog) History(ctx context.Context, id table.Ident) ([]table.VersionInfo, error) {
	tableID, _, err := c.lookup(ctx, c.db, id)
	if err != nil {
		return nil, err
	}

	query, args, err := c.sb.Select(versionColumns...).
		From("lake_table_versions").
		Where(sq.Eq{"table_id": tableID}).
		OrderBy("version DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building history query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]table.VersionInfo, 0)
	for rows.Next() {
		info, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return out, nil
}

// Close does nothing; the database handle is owned by the caller.
func (*Catalog) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (table.VersionInfo, error) {
	var (
		info        table.VersionInfo
		committedAt int64
		operation   string
		schemaJSON  string
	)
	if err := row.Scan(&info.Version, &committedAt, &operation, &schemaJSON,
		&info.FilesAdded, &info.FilesRemoved, &info.RowsAdded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, err
		}
		return info, fmt.Errorf("scanning version: %w", err)
	}
	info.Timestamp = time.UnixMicro(committedAt).UTC()
	info.Operation = table.Operation(operation)

	var schema record.Schema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return info, fmt.Errorf("decoding schema of version %d: %w", info.Version, err)
	}
	info.Schema = schema
	return info, nil
}

// Verify interface compliance.
var _ table.Catalog = (*Catalog)(nil)
