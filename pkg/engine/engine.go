// Package engine defines the query engine contract used by job execution.
//
// An Engine hands out one Session per job. A Session owns a private query
// namespace: sources are registered into it under aliases, one SQL statement
// runs against it, and it is discarded when the job ends. Object-store
// bindings (credentials, endpoints) are supplied when the session is created
// and never shared between sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// ErrAliasExists is returned when an alias is registered twice in a session.
var ErrAliasExists = errors.New("alias already registered")

// ErrUnsupportedLocation is returned when the engine cannot read a URI scheme.
var ErrUnsupportedLocation = errors.New("unsupported location")

// Format is a file format the engine can register directly.
type Format string

// File formats.
const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
)

// SessionOptions configure a new session.
type SessionOptions struct {
	// Bindings are the stores the session may read from. Each is bound once,
	// before any registration.
	Bindings []store.Descriptor
}

// Engine creates query sessions.
type Engine interface {
	// NewSession creates an empty, isolated session.
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)

	// Name identifies the engine in logs.
	Name() string
}

// Session is a per-job query namespace.
type Session interface {
	// RegisterFile exposes the file at uri under alias using the format's
	// default read options.
	RegisterFile(ctx context.Context, alias string, format Format, uri string) error

	// RegisterTable exposes an opened versioned table under alias.
	RegisterTable(ctx context.Context, alias string, h *table.Handle) error

	// Query plans sql against the registered aliases. Planning errors (syntax,
	// unknown relations) are returned here; rows are read by the Result.
	Query(ctx context.Context, sql string) (Result, error)

	// Aliases lists registered aliases in registration order.
	Aliases() []string

	// Close discards the session and everything registered in it.
	Close() error
}

// Result is a planned, not yet materialized query result.
type Result interface {
	// Schema returns the result columns.
	Schema() record.Schema

	// Preview reads at most n rows.
	Preview(ctx context.Context, n int) (record.Batch, error)

	// Materialize reads every row. It always returns at least one batch so the
	// schema travels with empty results.
	Materialize(ctx context.Context) ([]record.Batch, error)
}

// AliasSet tracks registered aliases for Session implementations.
type AliasSet struct {
	order []string
	seen  map[string]bool
}

// Check fails with ErrAliasExists when alias, compared case-insensitively,
// is already registered.
func (a *AliasSet) Check(alias string) error {
	if a.seen[strings.ToLower(alias)] {
		return fmt.Errorf("%w: %q", ErrAliasExists, alias)
	}
	return nil
}

// Add records a successfully registered alias.
func (a *AliasSet) Add(alias string) {
	if a.seen == nil {
		a.seen = make(map[string]bool)
	}
	a.seen[strings.ToLower(alias)] = true
	a.order = append(a.order, alias)
}

// List returns aliases in insertion order.
func (a *AliasSet) List() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}
