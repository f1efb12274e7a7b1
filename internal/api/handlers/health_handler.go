package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/lexkb/internal/logger"
)

// Pinger is the storage health probe.
type Pinger interface {
	Ping(ctx context.Context) error
	VectorEnabled() bool
}

type HealthHandler struct {
	db  Pinger
	log *logger.Logger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, log: logger.New("api")}
}

// Healthz handles GET /healthz.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "vector_enabled": h.db.VectorEnabled()})
}
