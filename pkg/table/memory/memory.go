// Package memory provides an in-memory table catalog.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// Catalog keeps table version logs in memory. It is safe for concurrent use.
type Catalog struct {
	mu     sync.Mutex
	tables map[table.Ident][]version
	now    func() time.Time
}

type version struct {
	info  table.VersionInfo
	files []table.DataFile
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock sets the function used to stamp commits.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		tables: make(map[table.Ident][]version),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the table state selected by sel.
func (c *Catalog) Snapshot(_ context.Context, id table.Ident, sel table.Selector) (*table.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	versions, ok := c.tables[id]
	if !ok {
		return nil, table.ErrTableNotFound
	}
	info, err := sel.Pick(historyOf(versions))
	if err != nil {
		return nil, err
	}
	v := versions[info.Version]
	files := make([]table.DataFile, len(v.files))
	copy(files, v.files)
	return &table.Snapshot{
		Table:     id,
		Version:   info.Version,
		Timestamp: info.Timestamp,
		Schema:    info.Schema,
		Files:     files,
	}, nil
}

// Commit appends a version to the table's log.
func (c *Catalog) Commit(_ context.Context, req table.CommitRequest) (*table.VersionInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	versions, exists := c.tables[req.Table]
	if req.ReadVersion == table.NoVersion {
		if exists {
			return nil, table.ErrTableExists
		}
	} else {
		if !exists {
			return nil, table.ErrTableNotFound
		}
		if int64(len(versions)-1) != req.ReadVersion {
			return nil, table.ErrWriteConflict
		}
	}

	var live []table.DataFile
	removed := 0
	if exists {
		prev := versions[len(versions)-1].files
		if req.ReplaceAll {
			removed = len(prev)
		} else {
			live = append(live, prev...)
		}
	}
	live = append(live, req.AddFiles...)

	info := table.VersionInfo{
		Version:      int64(len(versions)),
		Timestamp:    c.now().UTC(),
		Operation:    req.Operation,
		Schema:       req.Schema,
		FilesAdded:   len(req.AddFiles),
		FilesRemoved: removed,
		RowsAdded:    req.RowsAdded(),
	}
	c.tables[req.Table] = append(versions, version{info: info, files: live})
	out := info
	return &out, nil
}

// History lists versions newest first.
func (c *Catalog) History(_ context.Context, id table.Ident) ([]table.VersionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	versions, ok := c.tables[id]
	if !ok {
		return nil, table.ErrTableNotFound
	}
	return historyOf(versions), nil
}

// Close does nothing.
func (*Catalog) Close() error {
	return nil
}

func historyOf(versions []version) []table.VersionInfo {
	out := make([]table.VersionInfo, len(versions))
	for i, v := range versions {
		out[len(versions)-1-i] = v.info
	}
	return out
}

// Verify interface compliance.
var _ table.Catalog = (*Catalog)(nil)
