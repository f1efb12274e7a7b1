package services

import (
	"context"
	"errors"
	"strings"

	"github.com/markdave123-py/lexkb/internal/core"
	objectclient "github.com/markdave123-py/lexkb/internal/core/object-client"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type DocumentService struct {
	store   core.DocumentStore
	archive core.ObjectClient // nil when the raw source archive is disabled
	log     *logger.Logger
}

func NewDocumentService(store core.DocumentStore, archive core.ObjectClient) *DocumentService {
	return &DocumentService{store: store, archive: archive, log: logger.New("documents")}
}

func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := s.store.ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Lookup returns the document stored for url with its chunks in order.
func (s *DocumentService) Lookup(ctx context.Context, url string) (*models.Document, []models.Chunk, error) {
	doc, err := s.store.GetDocumentByURL(ctx, strings.TrimSpace(url))
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.store.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// Delete removes the document and its chunks. The archived raw source, if
// any, is removed on a best-effort basis.
func (s *DocumentService) Delete(ctx context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	var source string
	if doc, err := s.store.GetDocumentByURL(ctx, url); err == nil {
		source = doc.Source
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, err
	}

	deleted, err := s.store.DeleteDocumentByURL(ctx, url)
	if err != nil || !deleted {
		return deleted, err
	}
	if s.archive != nil {
		key := objectclient.RawSourceKey(source, url)
		if err := s.archive.DeleteFile(ctx, key); err != nil {
			s.log.Warn("raw source delete failed", "url", url, "key", key, "error", err)
		}
	}
	return true, nil
}

// RawSource returns the archived bytes fetched for url.
func (s *DocumentService) RawSource(ctx context.Context, url string) ([]byte, error) {
	if s.archive == nil {
		return nil, core.ErrNotFound
	}
	doc, err := s.store.GetDocumentByURL(ctx, strings.TrimSpace(url))
	if err != nil {
		return nil, err
	}
	return s.archive.GetFile(ctx, objectclient.RawSourceKey(doc.Source, doc.URL))
}
