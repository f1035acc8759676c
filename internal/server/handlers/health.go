package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/offsync/pkg/api"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
	db     Pinger
	now    func() time.Time
}

// NewHealthHandler создает новый handler для health check.
// db may be nil, then only the process itself is checked.
func NewHealthHandler(logger *slog.Logger, db Pinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
		now:    time.Now,
	}
}

// Health обрабатывает GET /api/v1/health
// Клиенты используют его как проверку связи: не-2xx означает офлайн
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("Health check failed: database unavailable", "error", err)
			WriteError(w, h.logger, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}

	WriteJSON(w, h.logger, http.StatusOK, api.HealthResponse{
		Status: "ok",
		Time:   h.now().UTC(),
	})
}
