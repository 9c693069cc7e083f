package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/runs"
)

// runListResponse wraps a paginated list of job runs.
type runListResponse struct {
	Data    []runs.Run `json:"data"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
}

const defaultRunLimit = 50

// listRuns handles GET /api/v1/runs.
//
// @Summary      List job runs
// @Description  Returns paginated job runs, newest first.
// @Tags         Runs
// @Produce      json
// @Param        sink_store  query  string  false  "Filter by sink store"
// @Param        sink_table  query  string  false  "Filter by sink table"
// @Param        success     query  boolean false  "Filter by success/failure"
// @Param        start_time  query  string  false  "Runs after this time (RFC 3339)"
// @Param        end_time    query  string  false  "Runs before this time (RFC 3339)"
// @Param        page        query  integer false  "Page number, 1-based (default: 1)"
// @Param        per_page    query  integer false  "Results per page (default: 50)"
// @Success      200  {object}  runListResponse
// @Failure      500  {object}  problemDetail
// @Router       /runs [get]
func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := runs.Filter{
		SinkStore: q.Get("sink_store"),
		SinkTable: q.Get("sink_table"),
		StartTime: parseTimeParam(q, "start_time"),
		EndTime:   parseTimeParam(q, "end_time"),
		Limit:     parseLimit(q),
	}
	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Success = &b
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultRunLimit
	}
	filter.Offset = parsePageOffset(q, filter.Limit)

	list, err := h.deps.Runs.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query job runs")
		return
	}
	total, err := h.deps.Runs.Count(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count job runs")
		return
	}
	if list == nil {
		list = []runs.Run{}
	}

	writeJSON(w, http.StatusOK, runListResponse{
		Data:    list,
		Total:   total,
		Page:    filter.Offset/filter.Limit + 1,
		PerPage: filter.Limit,
	})
}

// getRun handles GET /api/v1/runs/{id}.
//
// @Summary      Get a job run
// @Tags         Runs
// @Produce      json
// @Param        id  path  string  true  "Job ID"
// @Success      200  {object}  runs.Run
// @Failure      404  {object}  problemDetail
// @Router       /runs/{id} [get]
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.Runs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, runs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func parseTimeParam(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// parsePageOffset parses the page query parameter and computes offset using the given effective limit.
func parsePageOffset(q url.Values, effectiveLimit int) int {
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return (n - 1) * effectiveLimit
		}
	}
	return 0
}

// parseLimit parses the per_page query parameter into a limit value.
func parseLimit(q url.Values) int {
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
