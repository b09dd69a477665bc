package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"expensecf/internal/core"
	"expensecf/internal/store"
)

// apiResponse is the envelope every JSON endpoint answers with, matching the
// shape of the /api/kv wire format.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses: missing records are
// 404, state conflicts 409, bad input 422, and an unreachable backend 503.
// Anything unrecognized is a plain 500 without leaking the error text.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyInGroup),
		errors.Is(err, core.ErrAlreadyMember),
		errors.Is(err, core.ErrGroupFull),
		errors.Is(err, core.ErrNotInGroup),
		errors.Is(err, core.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidUsername),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrZeroDate),
		errors.Is(err, core.ErrEmptyGroupName):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
