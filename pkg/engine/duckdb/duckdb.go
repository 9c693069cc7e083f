// Package duckdb implements the query engine on an embedded DuckDB database.
// Every session is a fresh in-memory database; sources become views over
// DuckDB's file readers and versioned tables become views over their
// snapshot's parquet files.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

const (
	driverName       = "duckdb"
	defaultBatchSize = 8192
)

// Config tunes the embedded database.
type Config struct {
	// Threads caps DuckDB worker threads; 0 keeps DuckDB's default.
	Threads int `yaml:"threads"`

	// MemoryLimit is a DuckDB size string such as "2GB"; empty keeps the default.
	MemoryLimit string `yaml:"memory_limit"`

	// BatchSize is the number of rows per materialized batch.
	BatchSize int `yaml:"batch_size"`
}

// Opener opens the database backing one session.
type Opener func() (*sql.DB, error)

// Engine creates DuckDB sessions.
type Engine struct {
	cfg    Config
	open   Opener
	stores *objstore.Registry
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpener replaces the database opener.
func WithOpener(open Opener) Option {
	return func(e *Engine) {
		e.open = open
	}
}

// WithObjectStores lets sessions read bound stores DuckDB has no reader
// for, such as memory://, by staging their objects into a private
// directory.
func WithObjectStores(r *objstore.Registry) Option {
	return func(e *Engine) {
		e.stores = r
	}
}

// New creates an engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	e := &Engine{cfg: cfg, open: openInMemory}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func openInMemory() (*sql.DB, error) {
	return sql.Open(driverName, "")
}

// Name identifies the engine.
func (*Engine) Name() string {
	return driverName
}

// NewSession opens a private in-memory database, applies settings and binds
// the given stores.
func (e *Engine) NewSession(ctx context.Context, opts engine.SessionOptions) (engine.Session, error) {
	db, err := e.open()
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	// Views, secrets and settings live on the connection's database; pin the
	// session to one connection so every statement sees them.
	db.SetMaxOpenConns(1)

	s := &Session{db: db, batchSize: e.cfg.BatchSize}
	if e.stores != nil {
		s.stage = newStager(e.stores, opts.Bindings)
	}
	if err := s.configure(ctx, e.cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	for i, d := range opts.Bindings {
		if err := s.bind(ctx, i, d); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Session is one job's DuckDB database.
type Session struct {
	db        *sql.DB
	batchSize int
	aliases   engine.AliasSet
	httpfs    bool
	stage     *stager
}

func (s *Session) configure(ctx context.Context, cfg Config) error {
	if cfg.Threads > 0 {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("SET threads = %d", cfg.Threads)); err != nil {
			return fmt.Errorf("setting threads: %w", err)
		}
	}
	if cfg.MemoryLimit != "" {
		if _, err := s.db.ExecContext(ctx, "SET memory_limit = "+quoteLiteral(cfg.MemoryLimit)); err != nil {
			return fmt.Errorf("setting memory limit: %w", err)
		}
	}
	return nil
}

// RegisterFile creates a view named alias over the file at uri.
func (s *Session) RegisterFile(ctx context.Context, alias string, format engine.Format, uri string) error {
	if err := s.aliases.Check(alias); err != nil {
		return err
	}
	reader, err := readerFor(format)
	if err != nil {
		return err
	}
	loc, err := s.resolve(ctx, uri, nil)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s(%s)", quoteIdent(alias), reader, quoteLiteral(loc))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("registering %s file %s: %w", format, uri, err)
	}
	s.aliases.Add(alias)
	slog.Debug("registered file source", "alias", alias, "format", format, "uri", uri)
	return nil
}

// RegisterTable creates a view named alias over the handle's data files.
func (s *Session) RegisterTable(ctx context.Context, alias string, h *table.Handle) error {
	if err := s.aliases.Check(alias); err != nil {
		return err
	}
	uris := h.URIs()
	paths := make([]string, len(uris))
	for i, uri := range uris {
		loc, err := s.resolve(ctx, uri, &h.Store)
		if err != nil {
			return err
		}
		paths[i] = loc
	}
	stmt, err := tableView(alias, h, paths)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("registering table %s version %d: %w", h.Name, h.Version, err)
	}
	s.aliases.Add(alias)
	slog.Debug("registered table source", "alias", alias, "table", h.Name, "version", h.Version, "files", len(h.Files))
	return nil
}

// Query plans sqlText and captures the result schema without reading rows.
func (s *Session) Query(ctx context.Context, sqlText string) (engine.Result, error) {
	text, err := trimStatement(sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, limited(text, 0))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	schema, err := schemaOf(rows)
	if err != nil {
		return nil, err
	}
	return &Result{session: s, sql: text, schema: schema}, nil
}

// resolve returns the path DuckDB reads uri from. Objects in stores without a
// native reader are staged first; owner names the store uri belongs to when
// the caller knows it.
func (s *Session) resolve(ctx context.Context, uri string, owner *store.Descriptor) (string, error) {
	if s.stage != nil {
		if d, key, ok := s.stage.match(uri, owner); ok {
			return s.stage.fetch(ctx, d, key)
		}
	}
	return location(uri)
}

// Aliases lists registered aliases.
func (s *Session) Aliases() []string {
	return s.aliases.List()
}

// Close closes the session database and removes staged objects.
func (s *Session) Close() error {
	err := s.db.Close()
	if s.stage != nil {
		err = errors.Join(err, s.stage.cleanup())
	}
	return err
}

// Verify interface compliance.
var (
	_ engine.Engine  = (*Engine)(nil)
	_ engine.Session = (*Session)(nil)
)
