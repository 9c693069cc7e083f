// Package sink writes materialized query results into versioned tables.
//
// A write encodes the result batches into Parquet data files, uploads them
// to the sink table's object store and commits a new table version through
// the catalog. The commit is optimistic: a concurrent writer that advanced
// the table first causes table.ErrWriteConflict, which is surfaced and never
// retried here.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

var (
	// ErrSinkExists is returned by ErrorIfExists writes to an existing table.
	ErrSinkExists = errors.New("sink table already exists")

	// ErrSchemaMismatch is returned when batches do not fit the existing
	// table's schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrUnsupportedColumn is returned when a column's name or type cannot be
	// stored in a data file, or a value does not fit its column.
	ErrUnsupportedColumn = errors.New("unsupported column")

	// ErrNoData is returned when there is not even an empty batch to derive
	// a schema from.
	ErrNoData = errors.New("no result batches")
)

// SaveMode is the policy applied when the sink table may already exist.
type SaveMode string

// Save modes. Every mode creates the table when it does not exist.
const (
	ModeAppend        SaveMode = "append"
	ModeOverwrite     SaveMode = "overwrite"
	ModeErrorIfExists SaveMode = "error_if_exists"
	ModeIgnore        SaveMode = "ignore"
)

// ParseSaveMode parses a save mode. Matching ignores case, '_' and '-', so
// "ErrorIfExists", "error-if-exists" and "error_if_exists" are equivalent.
// An empty string selects ModeErrorIfExists.
func ParseSaveMode(s string) (SaveMode, error) {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "append":
		return ModeAppend, nil
	case "overwrite":
		return ModeOverwrite, nil
	case "", "errorifexists", "error":
		return ModeErrorIfExists, nil
	case "ignore", "ignoreifexists":
		return ModeIgnore, nil
	}
	return "", fmt.Errorf("unknown save mode %q", s)
}

// DefaultMaxRowsPerFile caps the rows encoded into one data file.
const DefaultMaxRowsPerFile = 1_000_000

// Result describes a completed write.
type Result struct {
	Table       table.Ident     `json:"table"`
	Mode        SaveMode        `json:"save_mode"`
	Version     int64           `json:"version"`
	Operation   table.Operation `json:"operation,omitempty"`
	RowsWritten int64           `json:"rows_written"`
	Files       int             `json:"files"`

	// Skipped is set when an Ignore write found the table already present.
	Skipped bool `json:"skipped,omitempty"`
}

// Writer persists batches into versioned tables.
type Writer struct {
	resolver       store.Resolver
	catalog        table.Catalog
	stores         *objstore.Registry
	maxRowsPerFile int
	newName        func() string
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxRowsPerFile sets the row cap per data file.
func WithMaxRowsPerFile(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxRowsPerFile = n
		}
	}
}

// WithFileNamer overrides data file naming.
func WithFileNamer(fn func() string) Option {
	return func(w *Writer) {
		w.newName = fn
	}
}

// NewWriter creates a writer.
func NewWriter(resolver store.Resolver, catalog table.Catalog, stores *objstore.Registry, opts ...Option) *Writer {
	w := &Writer{
		resolver:       resolver,
		catalog:        catalog,
		stores:         stores,
		maxRowsPerFile: DefaultMaxRowsPerFile,
		newName:        func() string { return uuid.New().String() + ".parquet" },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores batches in table tableName of store storeName using mode.
func (w *Writer) Write(ctx context.Context, storeName, tableName string, batches []record.Batch, mode SaveMode) (*Result, error) {
	if tableName == "" {
		return nil, errors.New("sink table name is required")
	}
	if len(batches) == 0 {
		return nil, ErrNoData
	}
	d, err := w.resolver.Resolve(storeName)
	if err != nil {
		return nil, err
	}
	id := table.Ident{Store: d.Name, Name: tableName}

	current, err := w.catalog.Snapshot(ctx, id, table.Latest())
	switch {
	case err == nil:
	case errors.Is(err, table.ErrTableNotFound):
		current = nil
	default:
		return nil, fmt.Errorf("reading sink table %s: %w", id, err)
	}

	schema := record.NormalizeSchema(batches[0].Schema)
	for i, b := range batches {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if err := schema.Compatible(b.Schema); err != nil {
			return nil, fmt.Errorf("%w: batch %d: %v", ErrSchemaMismatch, i, err)
		}
	}

	res := &Result{Table: id, Mode: mode}
	req := table.CommitRequest{
		Table:       id,
		ReadVersion: table.NoVersion,
		Operation:   table.OpCreate,
		Schema:      schema,
	}
	if current != nil {
		switch mode {
		case ModeErrorIfExists:
			return nil, fmt.Errorf("%w: %s", ErrSinkExists, id)
		case ModeIgnore:
			slog.Info("sink table exists, skipping write", "table", id.String(), "version", current.Version)
			res.Version = current.Version
			res.Skipped = true
			return res, nil
		case ModeAppend, ModeOverwrite:
		default:
			return nil, fmt.Errorf("unknown save mode %q", mode)
		}
		if err := current.Schema.Compatible(schema); err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", ErrSchemaMismatch, id, err)
		}
		// New files carry the table's column names, not the batch spelling.
		schema = current.Schema
		req.ReadVersion = current.Version
		req.Schema = schema
		req.Operation = table.OpAppend
		if mode == ModeOverwrite {
			req.Operation = table.OpOverwrite
			req.ReplaceAll = true
		}
	} else if _, err := ParseSaveMode(string(mode)); err != nil {
		return nil, err
	}

	if _, err := parquetMetadata(schema); err != nil {
		return nil, fmt.Errorf("sink table %s: %w", id, err)
	}

	obj, err := w.stores.Open(d)
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	files, err := w.upload(ctx, obj, tableName, schema, batches)
	if err != nil {
		w.discard(obj, files)
		return nil, err
	}
	req.AddFiles = files

	info, err := w.catalog.Commit(ctx, req)
	if err != nil {
		w.discard(obj, files)
		if errors.Is(err, table.ErrTableExists) {
			return w.lostCreate(ctx, res, mode)
		}
		return nil, fmt.Errorf("committing %s: %w", id, err)
	}

	res.Version = info.Version
	res.Operation = info.Operation
	res.RowsWritten = info.RowsAdded
	res.Files = len(files)
	slog.Info("sink write committed",
		"table", id.String(),
		"mode", string(mode),
		"operation", string(info.Operation),
		"version", info.Version,
		"rows", info.RowsAdded,
		"files", len(files),
	)
	return res, nil
}

// lostCreate settles a create that another writer beat to the table. The
// mode decides as if the table had existed from the start; appends and
// overwrites planned against no table are conflicts.
func (w *Writer) lostCreate(ctx context.Context, res *Result, mode SaveMode) (*Result, error) {
	id := res.Table
	switch mode {
	case ModeErrorIfExists:
		return nil, fmt.Errorf("%w: %s", ErrSinkExists, id)
	case ModeIgnore:
		current, err := w.catalog.Snapshot(ctx, id, table.Latest())
		if err != nil {
			return nil, fmt.Errorf("reading sink table %s: %w", id, err)
		}
		slog.Info("sink table created concurrently, skipping write", "table", id.String(), "version", current.Version)
		res.Version = current.Version
		res.Skipped = true
		return res, nil
	}
	return nil, fmt.Errorf("committing %s: %w: table was created concurrently", id, table.ErrWriteConflict)
}

// upload encodes rows into data files and stores them. It returns the files
// stored so far, even on error, so the caller can remove them.
func (w *Writer) upload(ctx context.Context, obj objstore.Store, tableName string, schema record.Schema, batches []record.Batch) ([]table.DataFile, error) {
	var (
		files   []table.DataFile
		pending [][]any
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		data, err := encodeParquet(schema, pending)
		if err != nil {
			return fmt.Errorf("encoding data file: %w", err)
		}
		key := table.DataKey(tableName, w.newName())
		if err := obj.Put(ctx, key, data); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		files = append(files, table.DataFile{Path: key, Rows: int64(len(pending)), Size: int64(len(data))})
		pending = nil
		return nil
	}

	for _, b := range batches {
		for _, row := range b.Rows {
			pending = append(pending, row)
			if len(pending) >= w.maxRowsPerFile {
				if err := flush(); err != nil {
					return files, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return files, err
	}
	return files, nil
}

// discard removes uploaded files after a failed write. Errors are logged.
func (*Writer) discard(obj objstore.Store, files []table.DataFile) {
	for _, f := range files {
		if err := obj.Delete(context.Background(), f.Path); err != nil {
			slog.Warn("failed to remove orphaned data file", "path", f.Path, "error", err)
		}
	}
}
