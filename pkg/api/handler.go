// Package api provides the REST endpoints for submitting jobs and browsing
// stores, table history, and job runs.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/txn2/mcp-lakejobs/pkg/health"
	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/runs"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// JobRunner executes jobs.
type JobRunner interface {
	RunJob(ctx context.Context, req job.Request) (*job.Response, error)
}

// HistoryReader lists the versions of a table.
type HistoryReader interface {
	History(ctx context.Context, storeName, name string) ([]table.VersionInfo, error)
}

// Deps holds the handler's collaborators. Nil members disable their routes.
type Deps struct {
	Jobs   JobRunner
	Runs   runs.Store
	Stores store.Resolver
	Tables HistoryReader
	Health *health.Checker
}

// Handler serves the REST API.
type Handler struct {
	mux  *http.ServeMux
	deps Deps
}

// NewHandler creates the REST API handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	if h.deps.Jobs != nil {
		h.mux.HandleFunc("POST /api/v1/jobs", h.runJob)
	}
	if h.deps.Runs != nil {
		h.mux.HandleFunc("GET /api/v1/runs", h.listRuns)
		h.mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	}
	if h.deps.Stores != nil {
		h.mux.HandleFunc("GET /api/v1/stores", h.listStores)
	}
	if h.deps.Tables != nil {
		h.mux.HandleFunc("GET /api/v1/tables/{store}/{table}/history", h.tableHistory)
	}
	if h.deps.Health != nil {
		h.mux.HandleFunc("GET /healthz", h.deps.Health.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.deps.Health.ReadinessHandler())
	}
}

// problemDetail is the error body returned by every endpoint.
type problemDetail struct {
	Error string    `json:"error"`
	Kind  job.Kind  `json:"kind,omitempty"`
	Stage job.Stage `json:"stage,omitempty"`
	Alias string    `json:"alias,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, problemDetail{Error: msg})
}
