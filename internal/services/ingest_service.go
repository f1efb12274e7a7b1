package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	ingestor "github.com/markdave123-py/lexkb/internal/core/ingestion_engine"
	"github.com/markdave123-py/lexkb/internal/models"
)

var (
	ErrNoItems      = errors.New("no feed items")
	ErrTooManyItems = errors.New("too many feed items")
)

// InvalidItemError names the first feed item that cannot be ingested.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

type IngestService struct {
	ing      ingestor.Ingestor
	maxItems int
}

func NewIngestService(ing ingestor.Ingestor, maxItems int) *IngestService {
	if maxItems <= 0 {
		maxItems = 500
	}
	return &IngestService{ing: ing, maxItems: maxItems}
}

// Ingest runs a feed synchronously and returns the per-document outcomes.
func (s *IngestService) Ingest(ctx context.Context, items []models.FeedItem, force bool) (models.BatchSummary, error) {
	items, err := s.normalize(items)
	if err != nil {
		return models.BatchSummary{}, err
	}
	return s.ing.IngestBatch(ctx, items, force), nil
}

// Enqueue hands the feed to the background workers and returns how many
// items were queued.
func (s *IngestService) Enqueue(ctx context.Context, items []models.FeedItem, force bool) (int, error) {
	items, err := s.normalize(items)
	if err != nil {
		return 0, err
	}
	for n, item := range items {
		if err := s.ing.Enqueue(ctx, item, force); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", item.URL, err)
		}
	}
	return len(items), nil
}

func (s *IngestService) Cancel(rawURL string) bool {
	return s.ing.Cancel(rawURL)
}

// normalize trims the items, checks the URLs and drops repeats of a URL
// already present earlier in the feed.
func (s *IngestService) normalize(items []models.FeedItem) ([]models.FeedItem, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if len(items) > s.maxItems {
		return nil, fmt.Errorf("%w: feed has %d items, limit is %d", ErrTooManyItems, len(items), s.maxItems)
	}
	seen := make(map[string]bool, len(items))
	out := make([]models.FeedItem, 0, len(items))
	for k, it := range items {
		it.URL = strings.TrimSpace(it.URL)
		it.Title = strings.TrimSpace(it.Title)
		it.Source = strings.TrimSpace(it.Source)
		u, err := url.Parse(it.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, &InvalidItemError{Index: k, Reason: fmt.Sprintf("invalid url %q", it.URL)}
		}
		if seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, it)
	}
	return out, nil
}
