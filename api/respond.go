package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hierarchy.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hierarchy.ErrCircularReference),
		errors.Is(err, entity.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, hierarchy.ErrAlreadyExists),
		errors.Is(err, store.ErrConditionFailed):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
