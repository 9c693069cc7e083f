package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/sink"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// State is a step of the job state machine.
type State string

// Job states. A job moves forward through these and ends in StateDone or
// StateFailed.
const (
	StateStart              State = "start"
	StateStoreResolved      State = "store_resolved"
	StateSessionCreated     State = "session_created"
	StateSourcesRegistered  State = "sources_registered"
	StateQueryExecuted      State = "query_executed"
	StatePreviewRendered    State = "preview_rendered"
	StateResultMaterialized State = "result_materialized"
	StateSinkWritten        State = "sink_written"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// SinkWriter persists materialized results.
type SinkWriter interface {
	Write(ctx context.Context, storeName, tableName string, batches []record.Batch, mode sink.SaveMode) (*sink.Result, error)
}

// Report summarizes a finished job for observers.
type Report struct {
	JobID     string
	StartedAt time.Time
	Duration  time.Duration
	Request   *Request
	Mode      sink.SaveMode

	// Sources counts registered sources by format.
	Sources map[Format]int

	// Response is nil when the job failed.
	Response *Response
	Err      error
}

// Success reports whether the job completed.
func (r *Report) Success() bool {
	return r.Err == nil && r.Response != nil && r.Response.Success
}

// Observer is notified after every job, successful or not.
type Observer interface {
	ObserveJob(ctx context.Context, r *Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r *Report)

// ObserveJob calls f.
func (f ObserverFunc) ObserveJob(ctx context.Context, r *Report) {
	f(ctx, r)
}

// Orchestrator runs jobs.
type Orchestrator struct {
	resolver    store.Resolver
	gateway     *table.Gateway
	engine      engine.Engine
	writer      SinkWriter
	previewRows int
	observers   []Observer
	slots       *semaphore.Weighted
	newID       func() string
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPreviewRows sets the dry-run row limit.
func WithPreviewRows(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.previewRows = n
		}
	}
}

// WithObserver adds a job observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithSlots makes every job hold one unit of slots while it runs. A job that
// cannot get one before ctx ends fails with KindUnavailable.
func WithSlots(slots *semaphore.Weighted) Option {
	return func(o *Orchestrator) {
		o.slots = slots
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithClock overrides the clock used for run timing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(resolver store.Resolver, gateway *table.Gateway, eng engine.Engine, writer SinkWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:    resolver,
		gateway:     gateway,
		engine:      eng,
		writer:      writer,
		previewRows: DefaultPreviewRows,
		newID:       func() string { return uuid.New().String() },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stores lists the configured store names.
func (o *Orchestrator) Stores() []string {
	return o.resolver.Names()
}

// Gateway returns the table gateway.
func (o *Orchestrator) Gateway() *table.Gateway {
	return o.gateway
}

// RunJob executes req. It returns a successful response or a *Error; it
// never reports partial success.
func (o *Orchestrator) RunJob(ctx context.Context, req Request) (*Response, error) {
	id := o.newID()
	started := o.now()
	mode, _ := sink.ParseSaveMode(string(req.Sink.SaveMode))
	report := &Report{
		JobID:     id,
		StartedAt: started,
		Request:   &req,
		Mode:      mode,
		Sources:   make(map[Format]int),
	}
	log := slog.With("job_id", id)
	log.Info("job state", "state", StateStart, "source_store", req.Source.Store, "dry_run", req.IsDryRun())

	resp, err := o.run(ctx, log, report)
	report.Duration = o.now().Sub(started)
	if err != nil {
		je := failure(StageValidate, "", KindInternal, err)
		log.Error("job state", "state", StateFailed, "kind", je.Kind, "stage", je.Stage, "error", je.Err)
		report.Err = je
		o.notify(ctx, report)
		return nil, je
	}

	resp.JobID = id
	resp.Success = true
	report.Response = resp
	log.Info("job state", "state", StateDone, "duration_ms", report.Duration.Milliseconds())
	o.notify(ctx, report)
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, report *Report) (*Response, error) {
	req := report.Request
	if err := req.Validate(); err != nil {
		return nil, failure(StageValidate, "", KindInvalidRequest, err)
	}
	dryRun := req.IsDryRun()

	if o.slots != nil {
		if err := o.slots.Acquire(ctx, 1); err != nil {
			return nil, &Error{Kind: KindUnavailable, Stage: StageAdmit, Err: fmt.Errorf("waiting for a job slot: %w", err)}
		}
		defer o.slots.Release(1)
	}

	d, err := o.resolver.Resolve(req.Source.Store)
	if err != nil {
		return nil, failure(StageResolve, "", KindUnknownStore, err)
	}
	log.Info("job state", "state", StateStoreResolved, "store", d.Name)

	sess, err := o.engine.NewSession(ctx, engine.SessionOptions{Bindings: []store.Descriptor{d}})
	if err != nil {
		return nil, failure(StageSession, "", KindStoreUnreachable, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("closing session", "error", cerr)
		}
	}()
	log.Info("job state", "state", StateSessionCreated, "engine", o.engine.Name())

	reg := newRegistrar(sess, o.gateway, d, log)
	err = reg.registerAll(ctx, req.Source.Tables)
	for f, n := range reg.counts {
		report.Sources[f] = n
	}
	if err != nil {
		return nil, err
	}
	log.Info("job state", "state", StateSourcesRegistered, "aliases", sess.Aliases())

	res, err := sess.Query(ctx, req.SQL)
	if err != nil {
		return nil, failure(StageQuery, "", KindQuery, err)
	}
	schema := res.Schema()
	log.Info("job state", "state", StateQueryExecuted, "schema", schema.String())

	out, err := selectMode(ctx, res, dryRun, o.previewRows)
	if err != nil {
		return nil, err
	}

	resp := &Response{DryRun: dryRun, Schema: schema}
	if dryRun {
		resp.Preview = out.preview
		log.Info("job state",
			"state", StatePreviewRendered,
			"rows", out.preview.NumRows(),
			"preview", "\n"+record.RenderString(*out.preview),
		)
		return resp, nil
	}
	log.Info("job state", "state", StateResultMaterialized, "batches", len(out.batches), "rows", record.TotalRows(out.batches))

	written, err := o.writer.Write(ctx, req.Sink.Store, req.Sink.Table, out.batches, report.Mode)
	if err != nil {
		return nil, failure(StageWrite, "", KindInternal, err)
	}
	resp.RowsWritten = written.RowsWritten
	resp.Skipped = written.Skipped
	version := written.Version
	resp.SinkVersion = &version
	log.Info("job state",
		"state", StateSinkWritten,
		"sink", written.Table.String(),
		"version", written.Version,
		"rows", written.RowsWritten,
		"skipped", written.Skipped,
	)
	return resp, nil
}

func (o *Orchestrator) notify(ctx context.Context, r *Report) {
	for _, obs := range o.observers {
		obs.ObserveJob(ctx, r)
	}
}
