// Package jobs exposes the job orchestrator as MCP tools and resources.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/runs"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

const (
	toolRunJob       = "run_job"
	toolListStores   = "list_stores"
	toolTableHistory = "table_history"
	toolListRuns     = "list_job_runs"

	defaultRunLimit = 20
)

// JobRunner executes jobs.
type JobRunner interface {
	RunJob(ctx context.Context, req job.Request) (*job.Response, error)
}

// HistoryReader lists the versions of a table.
type HistoryReader interface {
	History(ctx context.Context, storeName, name string) ([]table.VersionInfo, error)
}

// Toolkit implements the job tools.
type Toolkit struct {
	name   string
	runner JobRunner
	stores store.Resolver
	tables HistoryReader
	runs   runs.Store
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithRunStore enables the list_job_runs tool.
func WithRunStore(s runs.Store) Option {
	return func(t *Toolkit) {
		t.runs = s
	}
}

// New creates the job toolkit.
func New(name string, runner JobRunner, stores store.Resolver, tables HistoryReader, opts ...Option) *Toolkit {
	t := &Toolkit{
		name:   name,
		runner: runner,
		stores: stores,
		tables: tables,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind returns the toolkit kind.
func (*Toolkit) Kind() string {
	return "jobs"
}

// Name returns the toolkit instance name.
func (t *Toolkit) Name() string {
	return t.name
}

// Tools returns the names of the tools this toolkit registers.
func (t *Toolkit) Tools() []string {
	names := []string{toolRunJob, toolListStores, toolTableHistory}
	if t.runs != nil {
		names = append(names, toolListRuns)
	}
	return names
}

// RegisterTools registers the tools and the table history resource template.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: toolRunJob,
		Description: "Runs a SQL job over lakehouse data. Each entry in source.tables registers a file " +
			"(format parquet, csv, json with a path relative to source.store) or a versioned table " +
			"(format delta with table, and optionally version or timestamp for time travel) under its name. " +
			"The sql query may reference those names. With dry_run true the first rows of the " +
			"result are returned and nothing is written. Otherwise the result is committed to sink.table in " +
			"sink.store using save_mode append, overwrite, error_if_exists (the default), or ignore.",
	}, t.handleRunJob)

	mcp.AddTool(s, &mcp.Tool{
		Name:        toolListStores,
		Description: "Lists the configured stores that jobs can read from and write to.",
	}, t.handleListStores)

	mcp.AddTool(s, &mcp.Tool{
		Name:        toolTableHistory,
		Description: "Lists the committed versions of a versioned table, newest first, with operation and row counts.",
	}, t.handleTableHistory)

	if t.runs != nil {
		mcp.AddTool(s, &mcp.Tool{
			Name:        toolListRuns,
			Description: "Lists recent job runs, newest first. Filter by sink store, sink table, or success.",
		}, t.handleListRuns)
	}

	t.registerResourceTemplates(s)
}

// Close releases resources.
func (*Toolkit) Close() error {
	return nil
}

// runJobInput mirrors the job request wire form.
type runJobInput struct {
	Source sourceInput `json:"source"`
	SQL    string      `json:"sql"`
	Sink   *sinkInput  `json:"sink,omitempty"`
	DryRun *bool       `json:"dry_run,omitempty"`
}

type sourceInput struct {
	Store  string       `json:"store"`
	Tables []tableInput `json:"tables"`
}

type tableInput struct {
	Format    string `json:"format"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Table     string `json:"table,omitempty"`
	Version   *int64 `json:"version,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type sinkInput struct {
	Name     string `json:"name,omitempty"`
	Store    string `json:"store"`
	Table    string `json:"table"`
	SaveMode string `json:"save_mode,omitempty"`
}

// toRequest converts tool input into a job request.
func (in runJobInput) toRequest() (*job.Request, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding job input: %w", err)
	}
	return job.ParseRequest(data) //nolint:wrapcheck // job errors carry their own kind
}

// jobFailure is the error body for a failed job.
type jobFailure struct {
	Error string   `json:"error"`
	Kind  job.Kind `json:"kind"`
	Stage string   `json:"stage,omitempty"`
	Alias string   `json:"alias,omitempty"`
}

func (t *Toolkit) handleRunJob(ctx context.Context, _ *mcp.CallToolRequest, input runJobInput) (*mcp.CallToolResult, any, error) {
	req, err := input.toRequest()
	if err != nil {
		return jobErrorResult(&job.Error{Kind: job.KindInvalidRequest, Stage: job.StageValidate, Err: err}), nil, nil
	}
	resp, err := t.runner.RunJob(ctx, *req)
	if err != nil {
		return jobErrorResult(err), nil, nil
	}
	return jsonResult(resp)
}

type historyInput struct {
	Store string `json:"store"`
	Table string `json:"table"`
}

func (t *Toolkit) handleTableHistory(ctx context.Context, _ *mcp.CallToolRequest, input historyInput) (*mcp.CallToolResult, any, error) {
	if input.Store == "" || input.Table == "" {
		return errorResult("store and table are required"), nil, nil
	}
	versions, err := t.tables.History(ctx, input.Store, input.Table)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return jsonResult(versions)
}

type storeEntry struct {
	Name   string `json:"name"`
	Scheme string `json:"scheme"`
	Path   string `json:"path"`
}

func (t *Toolkit) handleListStores(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	names := t.stores.Names()
	out := make([]storeEntry, 0, len(names))
	for _, name := range names {
		d, err := t.stores.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, storeEntry{Name: name, Scheme: d.Scheme(), Path: d.Path})
	}
	return jsonResult(out)
}

type listRunsInput struct {
	SinkStore string `json:"sink_store,omitempty"`
	SinkTable string `json:"sink_table,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (t *Toolkit) handleListRuns(ctx context.Context, _ *mcp.CallToolRequest, input listRunsInput) (*mcp.CallToolResult, any, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	list, err := t.runs.List(ctx, runs.Filter{
		SinkStore: input.SinkStore,
		SinkTable: input.SinkTable,
		Success:   input.Success,
		Limit:     limit,
	})
	if err != nil {
		return errorResult("failed to list job runs: " + err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	if list == nil {
		list = []runs.Run{}
	}
	return jsonResult(list)
}

// jobErrorResult reports a job failure with its kind, stage and alias.
func jobErrorResult(err error) *mcp.CallToolResult {
	var je *job.Error
	if !errors.As(err, &je) {
		return errorResult(err.Error())
	}
	data, mErr := json.Marshal(jobFailure{
		Error: je.Err.Error(),
		Kind:  je.Kind,
		Stage: string(je.Stage),
		Alias: je.Alias,
	})
	if mErr != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// errorResult creates an error CallToolResult.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(`{"error": %q}`, msg)},
		},
		IsError: true,
	}
}

// jsonResult creates a success CallToolResult holding v as JSON.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("internal error marshaling response"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
