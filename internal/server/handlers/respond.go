package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/offsync/pkg/api"
)

// WriteJSON пишет v как JSON ответ с указанным статусом
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// WriteError пишет api.ErrorResponse
func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
