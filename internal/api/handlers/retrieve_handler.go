package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/markdave123-py/lexkb/internal/core/retriever"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/models"
)

// Retriever is the query side of the knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (*models.ResultSet, error)
}

type RetrieveHandler struct {
	retriever Retriever
	log       *logger.Logger
}

func NewRetrieveHandler(r Retriever) *RetrieveHandler {
	return &RetrieveHandler{retriever: r, log: logger.New("api")}
}

type RetrieveRequest struct {
	Query          string             `json:"query"`
	TopK           int                `json:"top_k"`
	Weights        *retriever.Weights `json:"weights,omitempty"`
	Year           int                `json:"year,omitempty"`
	Since          string             `json:"since,omitempty"`
	Until          string             `json:"until,omitempty"`
	Source         string             `json:"source,omitempty"`
	DocType        string             `json:"doc_type,omitempty"`
	MaxPerDocument int                `json:"max_per_document,omitempty"`
}

// Retrieve handles POST /api/retrieve.
func (h *RetrieveHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	q, err := req.toQuery()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := h.retriever.Retrieve(r.Context(), q)
	switch {
	case errors.Is(err, retriever.ErrEmptyQuery), errors.Is(err, retriever.ErrInvalidWeights):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("retrieval failed", "query", req.Query, "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	if rs.Results == nil {
		rs.Results = []models.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (req RetrieveRequest) toQuery() (retriever.Query, error) {
	q := retriever.Query{
		Text:           req.Query,
		TopK:           req.TopK,
		Weights:        req.Weights,
		MaxPerDocument: req.MaxPerDocument,
		Filter: models.SearchFilter{
			Year:    req.Year,
			Source:  strings.TrimSpace(req.Source),
			DocType: strings.ToLower(strings.TrimSpace(req.DocType)),
		},
	}
	if req.TopK < 0 || req.MaxPerDocument < 0 {
		return q, errors.New("top_k and max_per_document must not be negative")
	}
	if req.Year != 0 && (req.Year < 1900 || req.Year > 9999) {
		return q, fmt.Errorf("year %d out of range", req.Year)
	}
	var err error
	if q.Filter.Since, err = parseBound(req.Since, false); err != nil {
		return q, fmt.Errorf("since: %w", err)
	}
	if q.Filter.Until, err = parseBound(req.Until, true); err != nil {
		return q, fmt.Errorf("until: %w", err)
	}
	if q.Filter.Since != nil && q.Filter.Until != nil && q.Filter.Since.After(*q.Filter.Until) {
		return q, errors.New("since is after until")
	}
	return q, nil
}

var romeLoc = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// parseBound accepts RFC 3339 or a bare date. A bare upper bound covers
// the whole day in Rome time.
func parseBound(s string, upper bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, romeLoc)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", s)
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return &t, nil
}
