package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/history"
	"github.com/studiowebux/apitest/internal/loadtest"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/report"
	"github.com/studiowebux/apitest/internal/session"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondErr maps engine errors to status codes; anything unknown gets fallback
func respondErr(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	switch {
	case errors.Is(err, batch.ErrJobNotFound),
		errors.Is(err, loadtest.ErrJobNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, session.ErrVariableNotFound):
		status = http.StatusNotFound
	case errors.Is(err, loadtest.ErrWorkerUnresponsive),
		errors.Is(err, loadtest.ErrWorkerCrashed):
		status = http.StatusConflict
	case errors.Is(err, parser.ErrUnresolvedVariable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrEmptyBatch),
		errors.Is(err, session.ErrEmptyToken),
		errors.Is(err, report.ErrUnknownFormat):
		status = http.StatusBadRequest
	}
	respondError(w, status, err.Error())
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
