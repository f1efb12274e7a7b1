package core

import (
	"context"

	"github.com/markdave123-py/lexkb/internal/models"
)

// DocumentStore is the write and admin side of persistence.
type DocumentStore interface {
	DocumentExists(ctx context.Context, url string) (bool, error)
	// SaveDocument writes the document and all its chunks atomically. With
	// replace set, an existing document with the same URL keeps its id and
	// creation time while its fields and chunks are overwritten; doc.ID and
	// the chunks' DocumentID are set to that id. Without it a URL clash
	// returns ErrDuplicateDocument.
	SaveDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk, replace bool) error
	GetDocumentByURL(ctx context.Context, url string) (*models.Document, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error)
	DeleteDocumentByURL(ctx context.Context, url string) (bool, error)
	VectorEnabled() bool
}

// ChunkSearcher is the read side used by the retriever. Junk chunks are
// never returned.
type ChunkSearcher interface {
	SearchChunksFullText(ctx context.Context, query string, filter models.SearchFilter, limit int) ([]models.ChunkCandidate, error)
	SearchChunksVector(ctx context.Context, queryVec []float32, filter models.SearchFilter, limit int) ([]models.ChunkCandidate, error)
	// ScoreChunksVector returns similarities for the given chunk ids that
	// have an embedding.
	ScoreChunksVector(ctx context.Context, queryVec []float32, chunkIDs []string) (map[string]float64, error)
	VectorEnabled() bool
}

// DbClient is everything the application needs from Postgres.
type DbClient interface {
	DocumentStore
	ChunkSearcher
	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}

// FetchResult is a fetched source.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}
