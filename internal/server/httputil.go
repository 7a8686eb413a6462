package server

import (
	"errors"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/session"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("writeJSON encode error")
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseLimit extracts page_size from query params.
func parseLimit(r *http.Request) int {
	limit := 20
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}

// errorToHTTP maps engine errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, form.ErrClosed), errors.Is(err, model.ErrClosed):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrUnknownDefinition), errors.Is(err, persist.ErrNotFound), errors.Is(err, model.ErrNotMember):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case form.IsNotPermitted(err):
		writeError(w, r, http.StatusForbidden, "NOT_PERMITTED", err.Error())
	case errors.Is(err, model.ErrDuplicate), errors.Is(err, control.ErrEmptyRow):
		writeError(w, r, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, form.ErrInvalidForm):
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, form.ErrSaveRejected):
		writeError(w, r, http.StatusConflict, "SAVE_REJECTED", err.Error())
	case errors.Is(err, form.ErrUnknownControl), errors.Is(err, errInvalidMode), errors.Is(err, control.ErrUnknownControl), errors.Is(err, control.ErrInvalidField):
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		logger.FromContext(r.Context()).WithError(err).Error("internal error")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
