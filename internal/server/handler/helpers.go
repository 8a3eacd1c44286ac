// Package handler contains the HTTP handlers for the engine's API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// writeJSON marshals v and writes it with the given status code. A marshal
// failure falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes and
// sends the response.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, "invalid parameters")
	case errors.Is(err, domain.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "position is in a terminal state")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "position is being executed by another instance")
	case errors.Is(err, domain.ErrSubmissionFailed):
		writeError(w, http.StatusBadGateway, "swap submission failed")
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusUnprocessableEntity, "position is not eligible at this height")
	case errors.Is(err, domain.ErrBelowMinimumOutput):
		writeError(w, http.StatusUnprocessableEntity, "quote below minimum output")
	case errors.Is(err, domain.ErrCorruptRecord):
		writeError(w, http.StatusInternalServerError, "corrupt position record")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseUint64 parses a query or body field carrying a uint64.
func parseUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
