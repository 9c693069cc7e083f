package job

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// registrar registers a job's sources into its session. It is owned by one
// job and never shared.
type registrar struct {
	session engine.Session
	gateway *table.Gateway
	store   store.Descriptor
	log     *slog.Logger
	aliases map[string]bool
	counts  map[Format]int
}

func newRegistrar(session engine.Session, gateway *table.Gateway, d store.Descriptor, log *slog.Logger) *registrar {
	return &registrar{
		session: session,
		gateway: gateway,
		store:   d,
		log:     log,
		aliases: make(map[string]bool),
		counts:  make(map[Format]int),
	}
}

// registerAll registers tables in declaration order and stops at the first
// failure.
func (r *registrar) registerAll(ctx context.Context, tables []Table) error {
	for _, t := range tables {
		if err := r.register(ctx, t); err != nil {
			return failure(StageRegister, t.Alias(), KindRegistration, err)
		}
		r.counts[t.Format()]++
		r.log.Info("source registered", "alias", t.Alias(), "format", string(t.Format()))
	}
	return nil
}

func (r *registrar) register(ctx context.Context, t Table) error {
	key := strings.ToLower(t.Alias())
	if r.aliases[key] {
		return fmt.Errorf("%w: %q", ErrDuplicateAlias, t.Alias())
	}

	var err error
	switch v := t.(type) {
	case ParquetTable:
		err = r.registerFile(ctx, v.Name, engine.FormatParquet, v.Path)
	case CSVTable:
		err = r.registerFile(ctx, v.Name, engine.FormatCSV, v.Path)
	case JSONTable:
		err = r.registerFile(ctx, v.Name, engine.FormatJSON, v.Path)
	case DeltaTable:
		err = r.registerDelta(ctx, v)
	default:
		err = fmt.Errorf("unsupported source %T", t)
	}
	if err != nil {
		return err
	}
	r.aliases[key] = true
	return nil
}

func (r *registrar) registerFile(ctx context.Context, alias string, format engine.Format, p string) error {
	uri, err := r.locate(p)
	if err != nil {
		return err
	}
	return r.session.RegisterFile(ctx, alias, format, uri)
}

func (r *registrar) registerDelta(ctx context.Context, t DeltaTable) error {
	h, err := r.gateway.OpenAt(ctx, r.store, t.Table, t.Selector)
	if err != nil {
		return err
	}
	r.log.Info("table opened",
		"alias", t.Name,
		"table", t.Table,
		"version", h.Version,
		"files", len(h.Files),
		"rows", h.NumRows(),
	)
	return r.session.RegisterTable(ctx, t.Name, h)
}

// locate resolves a relative file path against the source store. URIs and
// absolute paths are used as given; relative paths stay below the store root.
func (r *registrar) locate(p string) (string, error) {
	if strings.Contains(p, "://") || path.IsAbs(p) {
		return p, nil
	}
	if escapesStore(p) {
		return "", fmt.Errorf("%w: path %q escapes store %q", ErrInvalidRequest, p, r.store.Name)
	}
	return r.store.Join(p), nil
}
