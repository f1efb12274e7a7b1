package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/models"
	"github.com/markdave123-py/lexkb/internal/services"
)

type IngestHandler struct {
	svc *services.IngestService
	log *logger.Logger
}

func NewIngestHandler(svc *services.IngestService) *IngestHandler {
	return &IngestHandler{svc: svc, log: logger.New("api")}
}

type ingestRequest struct {
	Items []models.FeedItem `json:"items"`
	Force bool              `json:"force"`
	Async bool              `json:"async"`
}

// Ingest handles POST /api/ingest. Synchronous requests return the batch
// summary; async ones return 202 once the items are queued.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Async {
		n, err := h.svc.Enqueue(r.Context(), req.Items, req.Force)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
		return
	}

	sum, err := h.svc.Ingest(r.Context(), req.Items, req.Force)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *IngestHandler) fail(w http.ResponseWriter, err error) {
	var inv *services.InvalidItemError
	if errors.Is(err, services.ErrNoItems) || errors.Is(err, services.ErrTooManyItems) || errors.As(err, &inv) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error("ingest request failed", "error", err)
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

type cancelRequest struct {
	URL string `json:"url"`
}

// Cancel handles POST /api/ingest/cancel.
func (h *IngestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
		return
	}
	canceled := h.svc.Cancel(req.URL)
	status := http.StatusOK
	if !canceled {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"url": req.URL, "canceled": canceled})
}
