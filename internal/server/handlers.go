package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/history"
	"github.com/studiowebux/apitest/internal/report"
	"github.com/studiowebux/apitest/internal/session"
	"github.com/studiowebux/apitest/internal/types"
)

// historySourceAPI marks history entries recorded through the API
const historySourceAPI = "api"

type runCallRequest struct {
	Definition types.CallDefinition `json:"definition"`
	Variables  map[string]string    `json:"variables,omitempty"`
}

func (s *Server) runCall(w http.ResponseWriter, r *http.Request) {
	var req runCallRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Definition.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	execution, err := s.engine.RunSingle(r.Context(), req.Definition, req.Variables)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	s.engine.RecordRun(r.Context(), historySourceAPI, execution)
	respondJSON(w, http.StatusOK, execution)
}

type startBatchRequest struct {
	batch.Options
	Definitions []types.CallDefinition `json:"definitions"`
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i := range req.Definitions {
		if err := req.Definitions[i].Validate(); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("definition %d: %v", i+1, err))
			return
		}
	}

	id, err := s.engine.StartBatch(r.Context(), req.Definitions, req.Options)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.ListBatches())
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("include") == "executions" {
		res, err := s.engine.BatchResult(id)
		if err != nil {
			respondErr(w, err, http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	progress, err := s.engine.BatchStatus(id)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) startLoadTest(w http.ResponseWriter, r *http.Request) {
	var req engine.LoadTestRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := s.engine.BuildLoadTestConfig(&req)
	if err != nil {
		respondErr(w, err, http.StatusBadRequest)
		return
	}
	id, err := s.engine.StartLoadTestConfig(r.Context(), cfg)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) previewLoadTest(w http.ResponseWriter, r *http.Request) {
	var req engine.LoadTestRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	preview, err := s.engine.PreviewLoadTestConfig(&req)
	if err != nil {
		respondErr(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"config": preview})
}

func (s *Server) getLoadTest(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.LoadTestStatus(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) stopLoadTest(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.StopLoadTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) collectLoadTest(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.CollectLoadTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// queryLimit reads ?limit; ok is false when a 400 was already written
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	reports, err := s.engine.Reports(r.Context(), limit)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []*report.Report{}
	}
	respondJSON(w, http.StatusOK, reports)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	var buf bytes.Buffer
	if err := report.Export(&buf, rep, format); err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}

	contentType, ext := "text/plain; charset=utf-8", "txt"
	if format == report.FormatCSV {
		contentType, ext = "text/csv; charset=utf-8", "csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.%s"`, rep.ID, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) variables(w http.ResponseWriter) *session.Store {
	vars := s.engine.Variables()
	if vars == nil {
		respondError(w, http.StatusServiceUnavailable, "variable store is not configured")
	}
	return vars
}

func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	vars := s.variables(w)
	if vars == nil {
		return
	}
	if err := vars.Reload(); err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, vars.List())
}

func (s *Server) setVariable(w http.ResponseWriter, r *http.Request) {
	vars := s.variables(w)
	if vars == nil {
		return
	}

	var v types.Variable
	if err := decode(r, &v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v.Name = chi.URLParam(r, "name")

	saved, err := vars.Set(v)
	if err != nil {
		respondErr(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteVariable(w http.ResponseWriter, r *http.Request) {
	vars := s.variables(w)
	if vars == nil {
		return
	}
	if err := vars.Delete(chi.URLParam(r, "name")); err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenRequest struct {
	Name  string `json:"name,omitempty"`
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

func (s *Server) generateToken(w http.ResponseWriter, r *http.Request) {
	vars := s.variables(w)
	if vars == nil {
		return
	}

	var req tokenRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	v, err := vars.GenerateToken(req.Name, req.Kind, req.Value)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) historyManager(w http.ResponseWriter) *history.Manager {
	h := s.engine.History()
	if h == nil {
		respondError(w, http.StatusServiceUnavailable, "history is not configured")
	}
	return h
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	h := s.historyManager(w)
	if h == nil {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.LoadForSource(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) historyStats(w http.ResponseWriter, r *http.Request) {
	h := s.historyManager(w)
	if h == nil {
		return
	}
	stats, err := h.Stats(r.Context())
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []history.Stats{}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	h := s.historyManager(w)
	if h == nil {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	entry, err := h.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	h := s.historyManager(w)
	if h == nil {
		return
	}
	removed, err := h.Clear(r.Context())
	if err != nil {
		respondErr(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
