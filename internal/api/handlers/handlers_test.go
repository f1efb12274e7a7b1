package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/core/retriever"
	"github.com/markdave123-py/lexkb/internal/models"
	"github.com/markdave123-py/lexkb/internal/services"
)

type fakeRetriever struct {
	last retriever.Query
	rs   *models.ResultSet
	err  error
}

func (f *fakeRetriever) Retrieve(_ context.Context, q retriever.Query) (*models.ResultSet, error) {
	f.last = q
	return f.rs, f.err
}

func post(t *testing.T, fn http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestRetrieve_MapsRequestToQuery(t *testing.T) {
	fr := &fakeRetriever{rs: &models.ResultSet{
		Results:        []models.RetrievalResult{{ChunkID: "c1", Combined: 0.7}},
		Degraded:       true,
		DegradedReason: retriever.ReasonQueryEmbedding,
	}}
	h := NewRetrieveHandler(fr)

	rec := post(t, h.Retrieve, `{
		"query": "cedolare secca",
		"top_k": 5,
		"weights": {"fts": 1, "vector": 0, "recency": 0},
		"year": 2024,
		"since": "2024-03-01",
		"until": "2024-03-31",
		"source": " agenzia-entrate ",
		"doc_type": "Circolare",
		"max_per_document": 2
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := fr.last
	assert.Equal(t, "cedolare secca", q.Text)
	assert.Equal(t, 5, q.TopK)
	assert.Equal(t, 2, q.MaxPerDocument)
	require.NotNil(t, q.Weights)
	assert.Equal(t, 1.0, q.Weights.FTS)
	assert.Equal(t, 2024, q.Filter.Year)
	assert.Equal(t, "agenzia-entrate", q.Filter.Source)
	assert.Equal(t, "circolare", q.Filter.DocType)
	require.NotNil(t, q.Filter.Since)
	require.NotNil(t, q.Filter.Until)
	assert.True(t, q.Filter.Since.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, romeLoc)))
	assert.True(t, q.Filter.Until.Equal(time.Date(2024, 3, 31, 23, 59, 59, 0, romeLoc)))

	var got models.ResultSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Degraded)
	assert.Equal(t, "query_embedding_failed", got.DegradedReason)
	assert.Len(t, got.Results, 1)
}

func TestRetrieve_EmptyResultsEncodeAsArray(t *testing.T) {
	h := NewRetrieveHandler(&fakeRetriever{rs: &models.ResultSet{}})
	rec := post(t, h.Retrieve, `{"query": "nulla"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestRetrieve_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"query":`,
		"unknown field": `{"query": "x", "limit": 3}`,
		"bad since":     `{"query": "x", "since": "marzo"}`,
		"inverted":      `{"query": "x", "since": "2024-05-01", "until": "2024-04-01"}`,
		"negative topk": `{"query": "x", "top_k": -1}`,
		"year":          `{"query": "x", "year": 12}`,
	}
	for name, body := range cases {
		h := NewRetrieveHandler(&fakeRetriever{rs: &models.ResultSet{}})
		rec := post(t, h.Retrieve, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	h := NewRetrieveHandler(&fakeRetriever{err: retriever.ErrEmptyQuery})
	assert.Equal(t, http.StatusBadRequest, post(t, h.Retrieve, `{"query": " "}`).Code)

	h = NewRetrieveHandler(&fakeRetriever{err: retriever.ErrInvalidWeights})
	assert.Equal(t, http.StatusBadRequest, post(t, h.Retrieve, `{"query": "x", "weights": {"fts": -1}}`).Code)

	h = NewRetrieveHandler(&fakeRetriever{err: errors.New("full-text search: connection refused")})
	rec := post(t, h.Retrieve, `{"query": "x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

type stubIngestor struct {
	queued int
}

func (s *stubIngestor) IngestOne(_ context.Context, item models.FeedItem, _ bool) models.Outcome {
	return models.Outcome{URL: item.URL, Status: models.OutcomeIngested, Chunks: 3}
}

func (s *stubIngestor) IngestBatch(ctx context.Context, items []models.FeedItem, force bool) models.BatchSummary {
	var sum models.BatchSummary
	for _, it := range items {
		sum.Add(s.IngestOne(ctx, it, force))
	}
	return sum
}

func (s *stubIngestor) Cancel(url string) bool { return url == "https://example.gov.it/running" }

func (s *stubIngestor) Start(context.Context, int) {}

func (s *stubIngestor) Enqueue(context.Context, models.FeedItem, bool) error {
	s.queued++
	return nil
}

func TestIngest_SyncAndAsync(t *testing.T) {
	ing := &stubIngestor{}
	h := NewIngestHandler(services.NewIngestService(ing, 0))

	rec := post(t, h.Ingest, `{"items": [{"url": "https://example.gov.it/a", "source": "mef"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum models.BatchSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.New)

	rec = post(t, h.Ingest, `{"items": [{"url": "https://example.gov.it/a"}, {"url": "https://example.gov.it/b"}], "async": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued": 2}`, rec.Body.String())
	assert.Equal(t, 2, ing.queued)

	assert.Equal(t, http.StatusBadRequest, post(t, h.Ingest, `{"items": []}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h.Ingest, `{"items": [{"url": "not a url"}]}`).Code)
}

func TestIngest_Cancel(t *testing.T) {
	h := NewIngestHandler(services.NewIngestService(&stubIngestor{}, 0))

	rec := post(t, h.Cancel, `{"url": "https://example.gov.it/running"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canceled":true`)

	assert.Equal(t, http.StatusNotFound, post(t, h.Cancel, `{"url": "https://example.gov.it/idle"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h.Cancel, `{}`).Code)
}

type memDocs struct {
	docs map[string]*models.Document
}

func (m *memDocs) DocumentExists(_ context.Context, url string) (bool, error) {
	_, ok := m.docs[url]
	return ok, nil
}

func (m *memDocs) SaveDocument(context.Context, *models.Document, []models.Chunk, bool) error {
	return nil
}

func (m *memDocs) GetDocumentByURL(_ context.Context, url string) (*models.Document, error) {
	if d, ok := m.docs[url]; ok {
		return d, nil
	}
	return nil, core.ErrNotFound
}

func (m *memDocs) GetChunksByDocument(context.Context, string) ([]models.Chunk, error) {
	return nil, nil
}

func (m *memDocs) ListDocuments(_ context.Context, limit, offset int) ([]models.Document, error) {
	var out []models.Document
	for _, d := range m.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (m *memDocs) DeleteDocumentByURL(_ context.Context, url string) (bool, error) {
	_, ok := m.docs[url]
	delete(m.docs, url)
	return ok, nil
}

func (m *memDocs) VectorEnabled() bool { return false }

func TestDocuments(t *testing.T) {
	url := "https://example.gov.it/c1"
	store := &memDocs{docs: map[string]*models.Document{url: {ID: "d1", URL: url, Title: "Circolare 1"}}}
	h := NewDocumentHandler(services.NewDocumentService(store, nil))

	get := func(fn http.HandlerFunc, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get(h.ListDocuments, "/api/documents?limit=10&offset=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Circolare 1")
	assert.Equal(t, http.StatusBadRequest, get(h.ListDocuments, "/api/documents?limit=ten").Code)

	rec = get(h.LookupDocument, "/api/documents/lookup?url="+url)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunks":[]`)
	assert.Equal(t, http.StatusNotFound, get(h.LookupDocument, "/api/documents/lookup?url=https://x.it/none").Code)
	assert.Equal(t, http.StatusBadRequest, get(h.LookupDocument, "/api/documents/lookup").Code)

	assert.Equal(t, http.StatusNotFound, get(h.RawSource, "/api/documents/raw?url="+url).Code, "no archive configured")

	del := httptest.NewRecorder()
	h.DeleteDocument(del, httptest.NewRequest(http.MethodDelete, "/api/documents?url="+url, nil))
	assert.Equal(t, http.StatusNoContent, del.Code)
	del = httptest.NewRecorder()
	h.DeleteDocument(del, httptest.NewRequest(http.MethodDelete, "/api/documents?url="+url, nil))
	assert.Equal(t, http.StatusNotFound, del.Code)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }
func (f fakePinger) VectorEnabled() bool        { return true }

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(fakePinger{}).Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "vector_enabled": true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(fakePinger{err: errors.New("dial tcp: refused")}).Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
