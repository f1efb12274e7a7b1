package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/lexkb/internal/models"
)

// Ingestor is what the feed layer and the HTTP API drive.
type Ingestor interface {
	IngestOne(ctx context.Context, item models.FeedItem, force bool) models.Outcome
	IngestBatch(ctx context.Context, items []models.FeedItem, force bool) models.BatchSummary
	Cancel(url string) bool
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, item models.FeedItem, force bool) error
}
