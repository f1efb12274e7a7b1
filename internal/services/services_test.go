package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lexkb/internal/core"
	objectclient "github.com/markdave123-py/lexkb/internal/core/object-client"
	"github.com/markdave123-py/lexkb/internal/models"
)

type fakeIngestor struct {
	mu       sync.Mutex
	batches  [][]models.FeedItem
	queued   []models.FeedItem
	canceled []string
	queueErr error
}

func (f *fakeIngestor) IngestOne(_ context.Context, item models.FeedItem, _ bool) models.Outcome {
	return models.Outcome{URL: item.URL, Status: models.OutcomeIngested}
}

func (f *fakeIngestor) IngestBatch(ctx context.Context, items []models.FeedItem, force bool) models.BatchSummary {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()
	var s models.BatchSummary
	for _, it := range items {
		s.Add(f.IngestOne(ctx, it, force))
	}
	return s
}

func (f *fakeIngestor) Cancel(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, url)
	return url == "https://example.gov.it/running"
}

func (f *fakeIngestor) Start(context.Context, int) {}

func (f *fakeIngestor) Enqueue(_ context.Context, item models.FeedItem, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil && len(f.queued) == 1 {
		return f.queueErr
	}
	f.queued = append(f.queued, item)
	return nil
}

func TestIngestService_NormalizesFeed(t *testing.T) {
	ing := &fakeIngestor{}
	svc := NewIngestService(ing, 10)

	sum, err := svc.Ingest(context.Background(), []models.FeedItem{
		{URL: " https://example.gov.it/a ", Title: " Circolare "},
		{URL: "https://example.gov.it/b"},
		{URL: "https://example.gov.it/a"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.New)
	require.Len(t, ing.batches, 1)
	assert.Equal(t, "https://example.gov.it/a", ing.batches[0][0].URL)
	assert.Equal(t, "Circolare", ing.batches[0][0].Title)
}

func TestIngestService_RejectsBadFeeds(t *testing.T) {
	svc := NewIngestService(&fakeIngestor{}, 2)

	_, err := svc.Ingest(context.Background(), nil, false)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = svc.Ingest(context.Background(), []models.FeedItem{{URL: "https://a.it/1"}, {URL: "ftp://a.it/2"}}, false)
	var inv *InvalidItemError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, 1, inv.Index)

	_, err = svc.Ingest(context.Background(), []models.FeedItem{{URL: "https://a.it/1"}, {URL: "https://a.it/2"}, {URL: "https://a.it/3"}}, false)
	assert.ErrorContains(t, err, "limit is 2")
}

func TestIngestService_Enqueue(t *testing.T) {
	ing := &fakeIngestor{}
	svc := NewIngestService(ing, 0)

	n, err := svc.Enqueue(context.Background(), []models.FeedItem{{URL: "https://a.it/1"}, {URL: "https://a.it/2"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, ing.queued, 2)

	ing = &fakeIngestor{queueErr: context.Canceled}
	n, err = NewIngestService(ing, 0).Enqueue(context.Background(), []models.FeedItem{{URL: "https://a.it/1"}, {URL: "https://a.it/2"}}, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestIngestService_Cancel(t *testing.T) {
	svc := NewIngestService(&fakeIngestor{}, 0)
	assert.True(t, svc.Cancel("https://example.gov.it/running"))
	assert.False(t, svc.Cancel("https://example.gov.it/idle"))
}

type stubStore struct {
	docs    map[string]*models.Document
	chunks  map[string][]models.Chunk
	lastLim int
	listErr error
}

func (s *stubStore) DocumentExists(_ context.Context, url string) (bool, error) {
	_, ok := s.docs[url]
	return ok, nil
}

func (s *stubStore) SaveDocument(context.Context, *models.Document, []models.Chunk, bool) error {
	return nil
}

func (s *stubStore) GetDocumentByURL(_ context.Context, url string) (*models.Document, error) {
	if d, ok := s.docs[url]; ok {
		return d, nil
	}
	return nil, core.ErrNotFound
}

func (s *stubStore) GetChunksByDocument(_ context.Context, id string) ([]models.Chunk, error) {
	return s.chunks[id], nil
}

func (s *stubStore) ListDocuments(_ context.Context, limit, _ int) ([]models.Document, error) {
	s.lastLim = limit
	return nil, s.listErr
}

func (s *stubStore) DeleteDocumentByURL(_ context.Context, url string) (bool, error) {
	if _, ok := s.docs[url]; !ok {
		return false, nil
	}
	delete(s.docs, url)
	return true, nil
}

func (s *stubStore) VectorEnabled() bool { return true }

type stubArchive struct {
	files   map[string][]byte
	deleted []string
}

func (a *stubArchive) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	a.files[key] = data
	return key, nil
}

func (a *stubArchive) DeleteFile(_ context.Context, key string) error {
	a.deleted = append(a.deleted, key)
	return errors.New("access denied")
}

func (a *stubArchive) GetFile(_ context.Context, key string) ([]byte, error) {
	if b, ok := a.files[key]; ok {
		return b, nil
	}
	return nil, core.ErrNotFound
}

func newStubs() (*stubStore, *stubArchive) {
	url := "https://example.gov.it/c1"
	store := &stubStore{
		docs:   map[string]*models.Document{url: {ID: "d1", URL: url, Source: "mef"}},
		chunks: map[string][]models.Chunk{"d1": {{ID: "c0", ChunkIndex: 0}, {ID: "c1", ChunkIndex: 1}}},
	}
	archive := &stubArchive{files: map[string][]byte{objectclient.RawSourceKey("mef", url): []byte("<html>")}}
	return store, archive
}

func TestDocumentService_List(t *testing.T) {
	store, _ := newStubs()
	svc := NewDocumentService(store, nil)

	docs, err := svc.List(context.Background(), 0, -3)
	require.NoError(t, err)
	assert.NotNil(t, docs, "empty pages encode as []")
	assert.Equal(t, defaultPageSize, store.lastLim)

	_, err = svc.List(context.Background(), 10_000, 0)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, store.lastLim)
}

func TestDocumentService_LookupAndRawSource(t *testing.T) {
	store, archive := newStubs()
	svc := NewDocumentService(store, archive)

	doc, chunks, err := svc.Lookup(context.Background(), " https://example.gov.it/c1 ")
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.ID)
	assert.Len(t, chunks, 2)

	_, _, err = svc.Lookup(context.Background(), "https://example.gov.it/none")
	assert.ErrorIs(t, err, core.ErrNotFound)

	raw, err := svc.RawSource(context.Background(), "https://example.gov.it/c1")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>"), raw)

	_, err = NewDocumentService(store, nil).RawSource(context.Background(), "https://example.gov.it/c1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDocumentService_Delete(t *testing.T) {
	store, archive := newStubs()
	svc := NewDocumentService(store, archive)

	ok, err := svc.Delete(context.Background(), "https://example.gov.it/c1")
	require.NoError(t, err, "archive failures do not fail the delete")
	assert.True(t, ok)
	assert.Equal(t, []string{objectclient.RawSourceKey("mef", "https://example.gov.it/c1")}, archive.deleted)

	ok, err = svc.Delete(context.Background(), "https://example.gov.it/c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, archive.deleted, 1)
}
