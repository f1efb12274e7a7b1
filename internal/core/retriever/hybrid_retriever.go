package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
	"github.com/markdave123-py/lexkb/internal/models"
)

const (
	defaultTopK = 10
	maxTopK     = 100

	ReasonVectorUnavailable = "vector_unavailable"
	ReasonQueryEmbedding    = "query_embedding_failed"
	ReasonVectorSearch      = "vector_search_failed"
	ReasonVectorTimeout     = "vector_timeout"

	defaultVectorTimeout = 3 * time.Second
)

var ErrEmptyQuery = errors.New("query text is empty")

// Query is one retrieval request. A nil Weights uses the configured defaults.
type Query struct {
	Text           string
	TopK           int
	Weights        *Weights
	Filter         models.SearchFilter
	MaxPerDocument int
}

type Options struct {
	Weights             Weights
	HalfLifeDays        float64
	CandidateMultiplier int
	// VectorTimeout bounds the query embedding plus the ANN scan. When it
	// expires the answer falls back to full-text results.
	VectorTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{Weights: DefaultWeights(), HalfLifeDays: 365, CandidateMultiplier: 4, VectorTimeout: defaultVectorTimeout}
}

// HybridRetriever ranks chunks by fusing full-text rank, vector similarity
// and document recency.
type HybridRetriever struct {
	search   core.ChunkSearcher
	embedder core.EmbeddingProvider
	cache    core.QueryCache
	opts     Options
	now      func() time.Time
	log      *logger.Logger
}

// NewHybridRetriever builds a retriever. embedder and cache may be nil; with
// no embedder every answer is full-text only and flagged degraded.
func NewHybridRetriever(search core.ChunkSearcher, embedder core.EmbeddingProvider, cache core.QueryCache, opts Options) *HybridRetriever {
	if opts.Weights.Validate() != nil {
		opts.Weights = DefaultWeights()
	}
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 365
	}
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = 4
	}
	if opts.VectorTimeout <= 0 {
		opts.VectorTimeout = defaultVectorTimeout
	}
	return &HybridRetriever{
		search:   search,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		now:      time.Now,
		log:      logger.New("retriever"),
	}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, q Query) (*models.ResultSet, error) {
	start := time.Now()
	defer func() { metrics.CaptureRetrieval(time.Since(start)) }()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	weights := r.opts.Weights
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return nil, err
		}
		weights = *q.Weights
	}
	limit := topK * r.opts.CandidateMultiplier
	if q.MaxPerDocument > 0 {
		limit *= 2
	}

	var (
		ftsHits    []models.ChunkCandidate
		vecHits    []models.ChunkCandidate
		queryVec   []float32
		vecReason  string
		vectorLive = r.embedder != nil && r.search.VectorEnabled()
	)
	if !vectorLive {
		vecReason = ReasonVectorUnavailable
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.search.SearchChunksFullText(gctx, text, q.Filter, limit)
		if err != nil {
			return fmt.Errorf("full-text search: %w", err)
		}
		ftsHits = hits
		return nil
	})
	if vectorLive {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, r.opts.VectorTimeout)
			defer cancel()
			vec, hits, reason, err := r.vectorLeg(vctx, text, q.Filter, limit)
			if err != nil {
				// The full-text leg failing cancels gctx; that error wins.
				if gctx.Err() != nil && ctx.Err() == nil {
					return nil
				}
				r.log.Warn("vector leg failed, falling back to full-text", "reason", reason, "error", err)
				vecReason = reason
				return nil
			}
			queryVec, vecHits = vec, hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	degraded := vecReason != ""
	cands := mergeCandidates(ftsHits, vecHits, degraded)
	if !degraded {
		r.backfillSimilarity(ctx, queryVec, cands)
	}

	results := r.rank(cands, weights)
	sortResults(results)
	results = capPerDocument(results, q.MaxPerDocument)
	if len(results) > topK {
		results = results[:topK]
	}

	out := &models.ResultSet{Results: results, Degraded: degraded, DegradedReason: vecReason}
	if degraded {
		metrics.RetrievalDegraded.WithLabelValues(vecReason).Inc()
	}
	r.log.Debug("retrieval done",
		"fts_candidates", len(ftsHits), "vector_candidates", len(vecHits),
		"results", len(results), "degraded", degraded, "elapsed", time.Since(start))
	return out, nil
}

// vectorLeg embeds the query and runs the ANN scan under ctx. On failure it
// returns the degraded reason to report; an expired ctx is always a timeout.
func (r *HybridRetriever) vectorLeg(ctx context.Context, text string, f models.SearchFilter, limit int) ([]float32, []models.ChunkCandidate, string, error) {
	vec, err := r.queryVector(ctx, text)
	if err != nil {
		return nil, nil, r.failureReason(ctx, ReasonQueryEmbedding), err
	}
	hits, err := r.search.SearchChunksVector(ctx, vec, f, limit)
	if err != nil {
		return nil, nil, r.failureReason(ctx, ReasonVectorSearch), err
	}
	return vec, hits, "", nil
}

func (r *HybridRetriever) failureReason(ctx context.Context, reason string) string {
	if ctx.Err() != nil {
		return ReasonVectorTimeout
	}
	return reason
}

// queryVector embeds the query, consulting the cache first.
func (r *HybridRetriever) queryVector(ctx context.Context, text string) ([]float32, error) {
	model := r.embedder.Model()
	if r.cache != nil {
		if vec, ok := r.cache.Get(ctx, model, text); ok {
			return vec, nil
		}
	}
	var vec []float32
	if qe, ok := r.embedder.(core.QueryEmbedder); ok {
		v, err := qe.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vec = v
	} else {
		vecs, err := r.embedder.EmbedBatch(ctx, []string{text}, core.TaskQuery)
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
		}
		vec = vecs[0]
	}
	if r.cache != nil {
		r.cache.Set(ctx, model, text, vec)
	}
	return vec, nil
}

type candidate struct {
	models.ChunkCandidate
	scored bool // Similarity is known
}

// mergeCandidates unions both hit lists by chunk id, keeping FTS order first.
// In degraded mode vector information is dropped entirely.
func mergeCandidates(fts, vec []models.ChunkCandidate, degraded bool) []*candidate {
	byID := make(map[string]*candidate, len(fts)+len(vec))
	out := make([]*candidate, 0, len(fts)+len(vec))
	for _, h := range fts {
		if _, ok := byID[h.ChunkID]; ok {
			continue
		}
		c := &candidate{ChunkCandidate: h}
		if degraded {
			c.HasVector = false
		}
		byID[h.ChunkID] = c
		out = append(out, c)
	}
	if degraded {
		return out
	}
	for _, h := range vec {
		if c, ok := byID[h.ChunkID]; ok {
			c.Similarity = h.Similarity
			c.HasVector = true
			c.scored = true
			continue
		}
		c := &candidate{ChunkCandidate: h, scored: true}
		c.HasVector = true
		byID[h.ChunkID] = c
		out = append(out, c)
	}
	return out
}

// backfillSimilarity scores FTS matches that have an embedding but were not
// in the ANN shortlist. On failure they are ranked as if they had none.
func (r *HybridRetriever) backfillSimilarity(ctx context.Context, vec []float32, cands []*candidate) {
	var ids []string
	for _, c := range cands {
		if c.HasVector && !c.scored {
			ids = append(ids, c.ChunkID)
		}
	}
	if len(ids) == 0 {
		return
	}
	sims, err := r.search.ScoreChunksVector(ctx, vec, ids)
	if err != nil {
		r.log.Warn("similarity backfill failed", "chunks", len(ids), "error", err)
		sims = nil
	}
	for _, c := range cands {
		if !c.HasVector || c.scored {
			continue
		}
		if s, ok := sims[c.ChunkID]; ok {
			c.Similarity = s
			c.scored = true
		} else {
			c.HasVector = false
		}
	}
}

func (r *HybridRetriever) rank(cands []*candidate, w Weights) []models.RetrievalResult {
	var maxRank float64
	for _, c := range cands {
		if c.FTSRank > maxRank {
			maxRank = c.FTSRank
		}
	}
	now := r.now()

	out := make([]models.RetrievalResult, 0, len(cands))
	for _, c := range cands {
		var fts float64
		if maxRank > 0 {
			fts = c.FTSRank / maxRank
		}
		var vec float64
		if c.HasVector {
			vec = clamp01(c.Similarity)
		}
		rec := Recency(c.KBEpoch, now, r.opts.HalfLifeDays)
		out = append(out, models.RetrievalResult{
			ChunkID:       c.ChunkID,
			DocumentID:    c.DocumentID,
			ChunkIndex:    c.ChunkIndex,
			ChunkText:     c.Content,
			DocumentTitle: c.Title,
			SourceURL:     c.SourceURL,
			DocTypeLabel:  c.DocType,
			KBEpoch:       c.KBEpoch,
			FTSScore:      fts,
			VectorScore:   vec,
			HasVector:     c.HasVector,
			RecencyScore:  rec,
			Combined:      Combine(w, fts, vec, rec, c.HasVector),
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
