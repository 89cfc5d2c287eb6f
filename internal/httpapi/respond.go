package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/abhisek/adaptiq/internal/assessment"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string          `json:"error"`
	StopReason stopping.Reason `json:"stop_reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	if reason, ok := engine.StopReason(err); ok {
		return http.StatusGone, errorBody{Error: "attempt stopped", StopReason: reason}
	}
	switch {
	case errors.Is(err, engine.ErrAttemptNotFound):
		return http.StatusNotFound, errorBody{Error: "attempt not found"}
	case errors.Is(err, engine.ErrInvalidItem), errors.Is(err, itembank.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error()}
	case engine.IsProtocolMisuse(err), errors.Is(err, engine.ErrAttemptOpen):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case engine.IsDataIntegrity(err):
		return http.StatusServiceUnavailable, errorBody{Error: "unable to load next question"}
	case errors.Is(err, assessment.ErrInvalidRequest), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}
