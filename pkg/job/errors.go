package job

import (
	"errors"
	"fmt"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/sink"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

var (
	// ErrInvalidRequest is returned when a request fails validation.
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrDuplicateAlias is returned when two sources share an alias.
	ErrDuplicateAlias = errors.New("duplicate alias")
)

// Kind classifies job failures.
type Kind string

// Failure kinds.
const (
	KindInvalidRequest    Kind = "InvalidRequest"
	KindUnknownStore      Kind = "UnknownStore"
	KindTableNotFound     Kind = "TableNotFound"
	KindVersionNotFound   Kind = "VersionNotFound"
	KindRegistration      Kind = "RegistrationError"
	KindDuplicateAlias    Kind = "DuplicateAlias"
	KindQuery             Kind = "QueryError"
	KindSinkAlreadyExists Kind = "SinkAlreadyExists"
	KindSchemaMismatch    Kind = "SchemaMismatch"
	KindWriteConflict     Kind = "WriteConflict"
	KindStoreUnreachable  Kind = "StoreUnreachable"
	KindUnavailable       Kind = "Unavailable"
	KindInternal          Kind = "Internal"
)

// Stage is a step of job execution.
type Stage string

// Execution stages, in order.
const (
	StageValidate    Stage = "validate"
	StageAdmit       Stage = "admit"
	StageResolve     Stage = "resolve"
	StageSession     Stage = "session"
	StageRegister    Stage = "register"
	StageQuery       Stage = "query"
	StagePreview     Stage = "preview"
	StageMaterialize Stage = "materialize"
	StageWrite       Stage = "write"
)

// Error is a failed job. It wraps the underlying cause, so errors.Is works
// against the sentinels of the store, table, sink and objstore packages.
type Error struct {
	Kind  Kind
	Stage Stage

	// Alias is set for registration failures.
	Alias string

	Err error
}

func (e *Error) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("%s (%s, source %q): %v", e.Kind, e.Stage, e.Alias, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a job error, or "" when err is not one.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

// failure wraps err as a job error of the kind matching its cause. fallback
// is used when no sentinel matches.
func failure(stage Stage, alias string, fallback Kind, err error) *Error {
	var je *Error
	if errors.As(err, &je) {
		return je
	}
	return &Error{Kind: classify(err, fallback), Stage: stage, Alias: alias, Err: err}
}

func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, ErrDuplicateAlias), errors.Is(err, engine.ErrAliasExists):
		return KindDuplicateAlias
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, store.ErrUnknownStore):
		return KindUnknownStore
	case errors.Is(err, table.ErrTableNotFound):
		return KindTableNotFound
	case errors.Is(err, table.ErrVersionNotFound):
		return KindVersionNotFound
	case errors.Is(err, sink.ErrSinkExists):
		return KindSinkAlreadyExists
	case errors.Is(err, sink.ErrSchemaMismatch), errors.Is(err, sink.ErrUnsupportedColumn):
		return KindSchemaMismatch
	case errors.Is(err, table.ErrWriteConflict), errors.Is(err, table.ErrTableExists):
		return KindWriteConflict
	case errors.Is(err, objstore.ErrUnreachable):
		return KindStoreUnreachable
	}
	return fallback
}
