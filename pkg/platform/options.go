package platform

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/runs"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is the catalog database (optional, opened from config if not provided).
	// A caller-provided database must already be migrated and is not closed.
	DB *sql.DB

	// Catalog (optional, built from the database or in memory if not provided).
	Catalog table.Catalog

	// Engine (optional, DuckDB from config if not provided).
	Engine engine.Engine

	// ObjectStores (optional, file, s3 and memory backends if not provided).
	ObjectStores *objstore.Registry

	// RunStore (optional, built from the database or in memory if not provided).
	RunStore runs.Store

	// Registry receives the job metrics (optional, a fresh registry if not provided).
	Registry *prometheus.Registry
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithCatalog sets the table catalog.
func WithCatalog(c table.Catalog) Option {
	return func(o *Options) {
		o.Catalog = c
	}
}

// WithEngine sets the query engine.
func WithEngine(e engine.Engine) Option {
	return func(o *Options) {
		o.Engine = e
	}
}

// WithObjectStores sets the object store backends.
func WithObjectStores(r *objstore.Registry) Option {
	return func(o *Options) {
		o.ObjectStores = r
	}
}

// WithRunStore sets the job run history store.
func WithRunStore(s runs.Store) Option {
	return func(o *Options) {
		o.RunStore = s
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *Options) {
		o.Registry = r
	}
}
