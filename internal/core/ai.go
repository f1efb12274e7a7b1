package core

import "context"

// TaskType tells the embedding backend which side of retrieval a text is on.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// EmbeddingProvider returns one vector per input, in input order. A failure
// on any item fails the whole call.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	Dimension() int
	Model() string
}

// QueryEmbedder is implemented by providers with a single-attempt path for
// interactive queries. Callers fall back to EmbedBatch when it is absent.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QueryCache stores query vectors keyed by model and query text.
type QueryCache interface {
	Get(ctx context.Context, model, query string) ([]float32, bool)
	Set(ctx context.Context, model, query string, vec []float32)
}
