package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// maxRequestBytes bounds a job request body.
const maxRequestBytes = 1 << 20

// runJob handles POST /api/v1/jobs.
//
// @Summary      Run a job
// @Description  Registers the sources, runs the SQL, and previews or writes the result.
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Success      200  {object}  job.Response
// @Failure      400  {object}  problemDetail
// @Failure      404  {object}  problemDetail
// @Failure      409  {object}  problemDetail
// @Router       /jobs [post]
func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	req, err := job.ParseRequest(body)
	if err != nil {
		writeJobError(w, &job.Error{Kind: job.KindInvalidRequest, Stage: job.StageValidate, Err: err})
		return
	}

	resp, err := h.deps.Jobs.RunJob(r.Context(), *req)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusForKind maps a job error kind to an HTTP status.
func statusForKind(kind job.Kind) int {
	switch kind {
	case job.KindInvalidRequest, job.KindDuplicateAlias, job.KindQuery, job.KindRegistration:
		return http.StatusBadRequest
	case job.KindUnknownStore, job.KindTableNotFound, job.KindVersionNotFound:
		return http.StatusNotFound
	case job.KindSinkAlreadyExists, job.KindWriteConflict:
		return http.StatusConflict
	case job.KindSchemaMismatch:
		return http.StatusUnprocessableEntity
	case job.KindStoreUnreachable:
		return http.StatusBadGateway
	case job.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	var je *job.Error
	if !errors.As(err, &je) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusForKind(je.Kind), problemDetail{
		Error: je.Err.Error(),
		Kind:  je.Kind,
		Stage: je.Stage,
		Alias: je.Alias,
	})
}

// storeInfo describes a configured store. Storage options are never exposed.
type storeInfo struct {
	Name   string `json:"name"`
	Scheme string `json:"scheme"`
	Path   string `json:"path"`
}

// listStores handles GET /api/v1/stores.
//
// @Summary      List stores
// @Tags         Stores
// @Produce      json
// @Success      200  {array}  storeInfo
// @Router       /stores [get]
func (h *Handler) listStores(w http.ResponseWriter, _ *http.Request) {
	names := h.deps.Stores.Names()
	out := make([]storeInfo, 0, len(names))
	for _, name := range names {
		d, err := h.deps.Stores.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, storeInfo{Name: name, Scheme: d.Scheme(), Path: d.Path})
	}
	writeJSON(w, http.StatusOK, out)
}

// tableHistory handles GET /api/v1/tables/{store}/{table}/history.
//
// @Summary      Table version history
// @Description  Lists the committed versions of a table, newest first.
// @Tags         Tables
// @Produce      json
// @Param        store  path  string  true  "Store name"
// @Param        table  path  string  true  "Table name"
// @Success      200  {array}   table.VersionInfo
// @Failure      404  {object}  problemDetail
// @Router       /tables/{store}/{table}/history [get]
func (h *Handler) tableHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.deps.Tables.History(r.Context(), r.PathValue("store"), r.PathValue("table"))
	switch {
	case errors.Is(err, store.ErrUnknownStore), errors.Is(err, table.ErrTableNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to read table history")
		return
	}
	writeJSON(w, http.StatusOK, versions)
}
