// Package table implements the versioned-table gateway. A table is an
// append-only log of versions; each version records its schema and the set
// of data files that make up the table at that point in time. Table metadata
// lives in a Catalog, data files live in the table's object store.
package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/record"
)

var (
	// ErrTableNotFound is returned when a table does not exist in the catalog.
	ErrTableNotFound = errors.New("table not found")

	// ErrVersionNotFound is returned when a selector matches no version.
	ErrVersionNotFound = errors.New("version not found")

	// ErrWriteConflict is returned when a commit's read version is no longer current.
	ErrWriteConflict = errors.New("write conflict")

	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("table already exists")
)

// NoVersion is the read version used to create a table.
const NoVersion int64 = -1

// Operation names the kind of commit that produced a version.
type Operation string

// Commit operations.
const (
	OpCreate    Operation = "create"
	OpAppend    Operation = "append"
	OpOverwrite Operation = "overwrite"
)

// Ident identifies a table within a store.
type Ident struct {
	Store string `json:"store"`
	Name  string `json:"name"`
}

// String renders the identifier as store.name.
func (i Ident) String() string {
	return i.Store + "." + i.Name
}

// DataFile is a data file belonging to a table version. Path is relative to
// the store root.
type DataFile struct {
	Path string `json:"path"`
	Rows int64  `json:"rows"`
	Size int64  `json:"size"`
}

// Snapshot is the state of a table at one version.
type Snapshot struct {
	Table     Ident         `json:"table"`
	Version   int64         `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Schema    record.Schema `json:"schema"`
	Files     []DataFile    `json:"files"`
}

// NumRows sums the row counts of the snapshot's files.
func (s *Snapshot) NumRows() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Rows
	}
	return n
}

// VersionInfo is one entry of a table's history.
type VersionInfo struct {
	Version      int64         `json:"version"`
	Timestamp    time.Time     `json:"timestamp"`
	Operation    Operation     `json:"operation"`
	Schema       record.Schema `json:"schema"`
	FilesAdded   int           `json:"files_added"`
	FilesRemoved int           `json:"files_removed"`
	RowsAdded    int64         `json:"rows_added"`
}

// CommitRequest describes a new table version.
type CommitRequest struct {
	Table Ident

	// ReadVersion is the version the writer based its change on. NoVersion
	// creates the table.
	ReadVersion int64

	Operation Operation
	Schema    record.Schema
	AddFiles  []DataFile

	// ReplaceAll removes every live file before adding AddFiles.
	ReplaceAll bool
}

// Validate checks the request shape.
func (r CommitRequest) Validate() error {
	if r.Table.Store == "" || r.Table.Name == "" {
		return errors.New("commit: table store and name are required")
	}
	if r.ReadVersion < NoVersion {
		return fmt.Errorf("commit: invalid read version %d", r.ReadVersion)
	}
	if r.Schema.Len() == 0 {
		return errors.New("commit: schema has no columns")
	}
	for _, f := range r.AddFiles {
		if f.Path == "" {
			return errors.New("commit: data file path is required")
		}
	}
	return nil
}

// RowsAdded sums the row counts of the files being added.
func (r CommitRequest) RowsAdded() int64 {
	var n int64
	for _, f := range r.AddFiles {
		n += f.Rows
	}
	return n
}

// Catalog stores table metadata and version logs.
type Catalog interface {
	// Snapshot returns the table state selected by sel.
	Snapshot(ctx context.Context, id Ident, sel Selector) (*Snapshot, error)

	// Commit appends a version. It fails with ErrWriteConflict when
	// ReadVersion is not the current version and with ErrTableExists when
	// creating a table that exists.
	Commit(ctx context.Context, req CommitRequest) (*VersionInfo, error)

	// History lists versions newest first.
	History(ctx context.Context, id Ident) ([]VersionInfo, error)

	// Close releases resources.
	Close() error
}
