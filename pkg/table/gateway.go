package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// FileRef is a data file addressed by absolute URI.
type FileRef struct {
	URI  string `json:"uri"`
	Rows int64  `json:"rows"`
}

// Handle is an opened table version. It carries enough metadata to register
// the table as a relation in a query session and nothing more; writes go
// through the sink writer.
type Handle struct {
	Store     store.Descriptor `json:"-"`
	Name      string           `json:"name"`
	Version   int64            `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Schema    record.Schema    `json:"schema"`
	Files     []FileRef        `json:"files"`
}

// NumRows sums the row counts of the handle's files.
func (h *Handle) NumRows() int64 {
	var n int64
	for _, f := range h.Files {
		n += f.Rows
	}
	return n
}

// URIs returns the data file URIs in snapshot order.
func (h *Handle) URIs() []string {
	out := make([]string, len(h.Files))
	for i, f := range h.Files {
		out[i] = f.URI
	}
	return out
}

// DataKey returns the store-relative key for a new data file of table name.
func DataKey(name, file string) string {
	return name + "/data/" + file
}

// Gateway opens versioned tables by store and name.
type Gateway struct {
	resolver store.Resolver
	catalog  Catalog
}

// NewGateway creates a gateway over a resolver and a catalog.
func NewGateway(resolver store.Resolver, catalog Catalog) *Gateway {
	return &Gateway{resolver: resolver, catalog: catalog}
}

// Open resolves storeName and opens table name at sel.
func (g *Gateway) Open(ctx context.Context, storeName, name string, sel Selector) (*Handle, error) {
	d, err := g.resolver.Resolve(storeName)
	if err != nil {
		return nil, err
	}
	return g.OpenAt(ctx, d, name, sel)
}

// OpenAt opens table name in an already resolved store.
func (g *Gateway) OpenAt(ctx context.Context, d store.Descriptor, name string, sel Selector) (*Handle, error) {
	if name == "" {
		return nil, errors.New("table name is required")
	}
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("opening table %q: %w", name, err)
	}
	snap, err := g.catalog.Snapshot(ctx, Ident{Store: d.Name, Name: name}, sel)
	if err != nil {
		return nil, fmt.Errorf("opening table %s.%s (%s): %w", d.Name, name, sel, err)
	}

	h := &Handle{
		Store:     d,
		Name:      name,
		Version:   snap.Version,
		Timestamp: snap.Timestamp,
		Schema:    snap.Schema,
		Files:     make([]FileRef, len(snap.Files)),
	}
	for i, f := range snap.Files {
		h.Files[i] = FileRef{URI: d.Join(f.Path), Rows: f.Rows}
	}
	return h, nil
}

// History lists the versions of table name, newest first.
func (g *Gateway) History(ctx context.Context, storeName, name string) ([]VersionInfo, error) {
	d, err := g.resolver.Resolve(storeName)
	if err != nil {
		return nil, err
	}
	versions, err := g.catalog.History(ctx, Ident{Store: d.Name, Name: name})
	if err != nil {
		return nil, fmt.Errorf("listing history of %s.%s: %w", storeName, name, err)
	}
	return versions, nil
}
