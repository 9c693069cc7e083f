package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/txn2/mcp-lakejobs/pkg/api"
	"github.com/txn2/mcp-lakejobs/pkg/database"
	"github.com/txn2/mcp-lakejobs/pkg/database/migrate"
	"github.com/txn2/mcp-lakejobs/pkg/engine/duckdb"
	"github.com/txn2/mcp-lakejobs/pkg/health"
	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/metrics"
	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/objstore/s3"
	"github.com/txn2/mcp-lakejobs/pkg/runs"
	"github.com/txn2/mcp-lakejobs/pkg/runs/sqlstore"
	"github.com/txn2/mcp-lakejobs/pkg/sink"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
	"github.com/txn2/mcp-lakejobs/pkg/table/memory"
	"github.com/txn2/mcp-lakejobs/pkg/table/sqlcatalog"
	"github.com/txn2/mcp-lakejobs/pkg/toolkits/jobs"
)

// Platform is the main platform facade.
type Platform struct {
	config *Config

	lifecycle *Lifecycle
	health    *health.Checker
	registry  *prometheus.Registry

	resolver     *store.StaticResolver
	objectStores *objstore.Registry
	db           *sql.DB
	catalog      table.Catalog
	gateway      *table.Gateway
	runStore     runs.Store

	orchestrator *job.Orchestrator
	slots        *semaphore.Weighted

	mcpServer *mcp.Server
	toolkit   *jobs.Toolkit
	api       *api.Handler
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		health:    health.NewChecker(),
		registry:  options.Registry,
		resolver:  store.NewStaticResolver(options.Config.Stores),
	}
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.lifecycle.Stop(context.Background())
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return p, nil
}

// initializeComponents wires storage, the orchestrator and the transports.
func (p *Platform) initializeComponents(opts *Options) error {
	p.initObjectStores(opts)
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	p.initCatalog(opts)
	p.initRunStore(opts)
	p.initOrchestrator(opts)
	p.initTransports()
	return nil
}

func (p *Platform) initObjectStores(opts *Options) {
	p.objectStores = opts.ObjectStores
	if p.objectStores != nil {
		return
	}
	p.objectStores = objstore.NewRegistry()
	p.objectStores.RegisterFactory(store.SchemeFile, objstore.OpenLocal)
	p.objectStores.RegisterFactory(store.SchemeS3, s3.Open)
	p.objectStores.RegisterFactory(store.SchemeMemory, objstore.NewMemoryFactory().Open)
}

// initDatabase opens and migrates the configured database. A caller-provided
// handle is used as is.
func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
	} else if p.config.Database.Enabled() {
		db, err := database.Open(p.config.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		p.lifecycle.AddCloser("database", db)
		if err := migrate.Run(db, p.config.Database.Driver); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		p.db = db
	}
	if p.db != nil {
		p.health.AddCheck("database", p.db.PingContext)
	}
	return nil
}

func (p *Platform) initCatalog(opts *Options) {
	switch {
	case opts.Catalog != nil:
		p.catalog = opts.Catalog
	case p.db != nil:
		p.catalog = sqlcatalog.New(p.db, p.config.Database.Driver)
	default:
		slog.Warn("no database configured; table versions are kept in memory")
		p.catalog = memory.New()
	}
	p.lifecycle.AddCloser("catalog", p.catalog)
	p.gateway = table.NewGateway(p.resolver, p.catalog)
}

func (p *Platform) initRunStore(opts *Options) {
	cfg := p.config.Runs
	switch {
	case opts.RunStore != nil:
		p.runStore = opts.RunStore
	case !cfg.Enabled:
		return
	case p.db != nil:
		s := sqlstore.New(p.db, p.config.Database.Driver, sqlstore.Config{RetentionDays: cfg.RetentionDays})
		p.lifecycle.Add("run history cleanup",
			func(context.Context) error {
				s.StartCleanupRoutine(cfg.CleanupInterval)
				return nil
			}, nil)
		p.runStore = s
	default:
		p.runStore = runs.NewMemoryStore(cfg.MemoryCapacity)
	}
	p.lifecycle.AddCloser("run history", p.runStore)
}

func (p *Platform) initOrchestrator(opts *Options) {
	eng := opts.Engine
	if eng == nil {
		eng = duckdb.New(p.config.Engine.DuckDB, duckdb.WithObjectStores(p.objectStores))
	}

	var writerOpts []sink.Option
	if n := p.config.Sink.MaxRowsPerFile; n > 0 {
		writerOpts = append(writerOpts, sink.WithMaxRowsPerFile(n))
	}
	writer := sink.NewWriter(p.resolver, p.catalog, p.objectStores, writerOpts...)

	orchOpts := []job.Option{job.WithPreviewRows(p.config.Engine.PreviewRows)}
	if p.config.Metrics.Enabled {
		orchOpts = append(orchOpts, job.WithObserver(metrics.New(p.registry)))
	}
	if p.runStore != nil {
		orchOpts = append(orchOpts, job.WithObserver(runs.NewRecorder(p.runStore)))
	}
	if n := p.config.Jobs.MaxConcurrent; n > 0 {
		p.slots = semaphore.NewWeighted(int64(n))
		orchOpts = append(orchOpts, job.WithSlots(p.slots))
	}
	p.orchestrator = job.NewOrchestrator(p.resolver, p.gateway, eng, writer, orchOpts...)
}

func (p *Platform) initTransports() {
	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    p.config.Server.Name,
		Version: p.config.Server.Version,
	}, nil)

	var toolkitOpts []jobs.Option
	if p.runStore != nil {
		toolkitOpts = append(toolkitOpts, jobs.WithRunStore(p.runStore))
	}
	p.toolkit = jobs.New("default", p, p.resolver, p.gateway, toolkitOpts...)
	p.toolkit.RegisterTools(p.mcpServer)
	p.lifecycle.AddCloser("toolkit", p.toolkit)

	p.api = api.NewHandler(api.Deps{
		Jobs:   p,
		Runs:   p.runStore,
		Stores: p.resolver,
		Tables: p.gateway,
		Health: p.health,
	})
}

// RunJob runs a job, waiting for a free slot when jobs.max_concurrent is set.
func (p *Platform) RunJob(ctx context.Context, req job.Request) (*job.Response, error) {
	return p.orchestrator.RunJob(ctx, req)
}

// Start starts background components and marks the platform ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	slog.Info("platform started",
		"stores", p.resolver.Names(),
		"tools", p.toolkit.Tools(),
		"max_concurrent", p.config.Jobs.MaxConcurrent,
	)
	return nil
}

// Close marks the platform draining and releases every component.
func (p *Platform) Close() error {
	p.health.SetDraining()
	if err := p.lifecycle.Stop(context.Background()); err != nil {
		return fmt.Errorf("errors closing platform: %w", err)
	}
	return nil
}

// HTTPHandler serves the MCP streamable HTTP transport at /mcp, the REST API,
// health endpoints and, when enabled, metrics.
func (p *Platform) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return p.mcpServer }, nil))
	if p.config.Metrics.Enabled {
		mux.Handle("GET "+p.config.Metrics.Path, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", p.api)
	return mux
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Orchestrator returns the job orchestrator.
func (p *Platform) Orchestrator() *job.Orchestrator {
	return p.orchestrator
}

// RunStore returns the job run history, or nil when disabled.
func (p *Platform) RunStore() runs.Store {
	return p.runStore
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}
