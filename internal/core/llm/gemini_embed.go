package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
)

var (
	_ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
	_ core.QueryEmbedder     = (*GeminiEmbedder)(nil)
)

// EmbedderOptions tune batching and the retry policy.
type EmbedderOptions struct {
	Model             string
	Dimension         int
	BatchSize         int
	Timeout           time.Duration // per request
	MaxRetries        int
	RequestsPerSecond float64

	backoffBase time.Duration
}

func (o *EmbedderOptions) defaults() {
	if o.Model == "" {
		o.Model = "text-embedding-004"
	}
	if o.BatchSize <= 0 || o.BatchSize > 100 {
		o.BatchSize = 64
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.backoffBase <= 0 {
		o.backoffBase = 500 * time.Millisecond
	}
}

// batchFunc embeds one request's worth of texts.
type batchFunc func(ctx context.Context, task core.TaskType, texts []string) ([][]float32, error)

type GeminiEmbedder struct {
	client  *genai.Client
	opts    EmbedderOptions
	limiter *rate.Limiter
	call    batchFunc
	log     *logger.Logger
}

func NewGeminiEmbedder(ctx context.Context, apiKey string, opts EmbedderOptions) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	g := newEmbedder(opts, nil)
	g.client = cl
	g.call = g.geminiBatch
	return g, nil
}

func newEmbedder(opts EmbedderOptions, call batchFunc) *GeminiEmbedder {
	opts.defaults()
	g := &GeminiEmbedder{opts: opts, call: call, log: logger.New("embedder")}
	if opts.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return g
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Dimension() int { return g.opts.Dimension }
func (g *GeminiEmbedder) Model() string  { return g.opts.Model }

// EmbedBatch embeds texts in sub-batches of BatchSize. The result has one
// vector per text in input order; any failed sub-batch fails the call.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string, task core.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.opts.BatchSize {
		end := start + g.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedWithRetry(ctx, task, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed items %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed items %d-%d: got %d vectors for %d texts", start, end-1, len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("embed item %d: empty vector", start+i)
			}
			if g.opts.Dimension > 0 && len(v) != g.opts.Dimension {
				return nil, fmt.Errorf("embed item %d: dimension %d, want %d", start+i, len(v), g.opts.Dimension)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds one query text with a single request and no retries.
// The caller's deadline bounds it, together with the per-request timeout.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	start := time.Now()
	vecs, err := g.call(reqCtx, core.TaskQuery, []string{text})
	metrics.CaptureDependency("embedding", time.Since(start))
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("got %d vectors for one query", len(vecs))
	}
	if g.opts.Dimension > 0 && len(vecs[0]) != g.opts.Dimension {
		return nil, fmt.Errorf("query vector dimension %d, want %d", len(vecs[0]), g.opts.Dimension)
	}
	return vecs[0], nil
}

func (g *GeminiEmbedder) embedWithRetry(ctx context.Context, task core.TaskType, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := g.opts.backoffBase << (attempt - 1)
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		start := time.Now()
		vecs, err := g.call(reqCtx, task, texts)
		cancel()
		metrics.CaptureDependency("embedding", time.Since(start))
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		g.log.Warn("transient embedding error, retrying", "attempt", attempt+1, "batch", len(texts), "error", err)
	}
	return nil, fmt.Errorf("%w: %v", core.ErrTransient, lastErr)
}

func (g *GeminiEmbedder) geminiBatch(ctx context.Context, task core.TaskType, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.opts.Model)
	switch task {
	case core.TaskQuery:
		em.TaskType = genai.TaskTypeRetrievalQuery
	default:
		em.TaskType = genai.TaskTypeRetrievalDocument
	}

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, e.Values)
	}
	return out, nil
}

// IsTransient reports rate limiting, unavailability and timeouts, whether
// surfaced as gRPC status codes or HTTP errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrTransient) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return false
}
