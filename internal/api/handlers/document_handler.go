package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/models"
	"github.com/markdave123-py/lexkb/internal/services"
)

type DocumentHandler struct {
	svc *services.DocumentService
	log *logger.Logger
}

func NewDocumentHandler(svc *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc, log: logger.New("api")}
}

// ListDocuments handles GET /api/documents?limit=&offset=.
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("list documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

type documentDetail struct {
	*models.Document
	Chunks []models.Chunk `json:"chunks"`
}

// LookupDocument handles GET /api/documents/lookup?url=.
func (h *DocumentHandler) LookupDocument(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	doc, chunks, err := h.svc.Lookup(r.Context(), url)
	if err != nil {
		h.fail(w, "lookup", err)
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	writeJSON(w, http.StatusOK, documentDetail{Document: doc, Chunks: chunks})
}

// DeleteDocument handles DELETE /api/documents?url=.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	deleted, err := h.svc.Delete(r.Context(), url)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RawSource handles GET /api/documents/raw?url= and streams the archived
// bytes as fetched.
func (h *DocumentHandler) RawSource(w http.ResponseWriter, r *http.Request) {
	url, ok := requireURL(w, r)
	if !ok {
		return
	}
	body, err := h.svc.RawSource(r.Context(), url)
	if err != nil {
		h.fail(w, "raw source", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(body))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *DocumentHandler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	h.log.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func requireURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return "", false
	}
	return url, true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
