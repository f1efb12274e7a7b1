package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/core/llm"
	objectclient "github.com/markdave123-py/lexkb/internal/core/object-client"
	"github.com/markdave123-py/lexkb/internal/core/textclean"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
	"github.com/markdave123-py/lexkb/internal/models"
)

var _ Ingestor = (*DocumentIngestor)(nil)

// NewDocumentIngestor wires the coordinator. embedder and archive may be nil.
func NewDocumentIngestor(store core.DocumentStore, fetcher core.Fetcher, extractor core.DocumentExtractor,
	embedder core.EmbeddingProvider, archive core.ObjectClient, cfg IngestConfig) *DocumentIngestor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &DocumentIngestor{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		embedder:  embedder,
		archive:   archive,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.New("ingestor"),
		jobs:      make(chan ingestJob, cfg.QueueSize),
	}
}

// rejection is a quality gate verdict, not a failure.
type rejection struct{ reason string }

func (r *rejection) Error() string { return "rejected: " + r.reason }

// IngestOne runs one document to a terminal outcome. It never returns an
// error and never panics: every failure becomes an outcome with a reason.
func (i *DocumentIngestor) IngestOne(ctx context.Context, item models.FeedItem, force bool) (out models.Outcome) {
	start := time.Now()
	url := strings.TrimSpace(item.URL)
	item.URL = url
	out = models.Outcome{URL: url, State: string(StateNew)}

	metrics.IncrementInFlight()
	defer metrics.DecrementInFlight()

	docCtx, cancel := context.WithTimeout(ctx, i.cfg.DocumentTimeout)
	defer cancel()
	id := i.inflight.add(url, cancel)
	defer i.inflight.remove(url, id)

	defer func() {
		if r := recover(); r != nil {
			i.log.Error("panic during ingestion", "url", url, "panic", r, "stack", string(debug.Stack()))
			out.Status = models.OutcomeFailed
			out.Reason = fmt.Sprintf("internal error: %v", r)
			out.State = string(StateFailed)
		}
		out.Duration = time.Since(start)
		metrics.IngestOutcomes.WithLabelValues(string(out.Status)).Inc()
		i.logOutcome(out)
	}()

	if url == "" {
		out.Status, out.State, out.Reason = models.OutcomeFailed, string(StateFailed), "empty url"
		return out
	}

	err := i.process(docCtx, item, force, &out)
	var rej *rejection
	switch {
	case err == nil:
		out.Status = models.OutcomeIngested
	case errors.Is(err, core.ErrDuplicateDocument):
		out.Status = models.OutcomeSkippedDuplicate
		out.Reason = "already ingested"
	case errors.As(err, &rej):
		out.Status = models.OutcomeRejectedQuality
		out.State = string(StateRejectedQuality)
		out.Reason = rej.reason
	default:
		out.Status = models.OutcomeFailed
		out.State = string(StateFailed)
		out.Reason, out.Transient = failureReason(ctx, docCtx, err, i.cfg.DocumentTimeout)
	}
	return out
}

// failureReason tells a cancelled or timed-out document apart from a stage
// error, and marks the retryable ones.
func failureReason(parent, doc context.Context, err error, timeout time.Duration) (string, bool) {
	switch {
	case parent.Err() != nil:
		return "canceled: " + parent.Err().Error(), true
	case errors.Is(doc.Err(), context.Canceled):
		return "canceled", true
	case errors.Is(doc.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("document timeout after %s: %v", timeout, err), true
	}
	return err.Error(), errors.Is(err, core.ErrTransient) || llm.IsTransient(err)
}

func (i *DocumentIngestor) process(ctx context.Context, item models.FeedItem, force bool, out *models.Outcome) error {
	if !force {
		exists, err := i.store.DocumentExists(ctx, item.URL)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			return core.ErrDuplicateDocument
		}
	}

	t := time.Now()
	fetched, err := i.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	metrics.CaptureStage("fetch", time.Since(t))
	out.State = string(StateFetched)
	i.archiveSource(ctx, item, fetched)

	t = time.Now()
	srcURL := fetched.FinalURL
	if srcURL == "" {
		srcURL = item.URL
	}
	ext, err := i.extractor.Extract(ctx, srcURL, fetched.ContentType, fetched.Body)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	metrics.CaptureStage("extract", time.Since(t))
	out.State = string(StateExtracted)
	out.Method, out.Quality, out.OCRPages = ext.Method, ext.Quality, ext.OCRPages

	clean := textclean.CleanWithStats
	if ext.Method == core.MethodHTML {
		clean = textclean.CleanDecodedWithStats
	}
	text, stats := clean(ext.Text)
	if reason := i.qualityGate(ext, text, stats); reason != "" {
		return &rejection{reason: reason}
	}
	out.State = string(StateQualityChecked)

	t = time.Now()
	chunks := ChunkText(text, i.cfg.Chunk)
	if len(chunks) == 0 {
		return errors.New("chunk: text produced no chunks")
	}
	metrics.CaptureStage("chunk", time.Since(t))
	out.State = string(StateChunked)

	vecs, err := i.embedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	out.State = string(StateEmbedded)

	doc, rows := i.buildRecords(item, ext, text, chunks, vecs)

	t = time.Now()
	if err := i.store.SaveDocument(ctx, doc, rows, force); err != nil {
		if errors.Is(err, core.ErrDuplicateDocument) {
			return err
		}
		return fmt.Errorf("persist: %w", err)
	}
	metrics.CaptureStage("persist", time.Since(t))
	out.State = string(StatePersisted)
	out.DocumentID = doc.ID
	out.Chunks = len(rows)
	return nil
}

// qualityGate returns a rejection reason, or "" when the text may be stored.
func (i *DocumentIngestor) qualityGate(ext *core.Extraction, cleaned string, stats textclean.Stats) string {
	if r := stats.GarbageRatio(); r > i.cfg.MaxGarbageRatio {
		return fmt.Sprintf("%.0f%% of the extracted characters were unreadable (limit %.0f%%)", r*100, i.cfg.MaxGarbageRatio*100)
	}
	if ext.Quality < i.cfg.MinQuality {
		return fmt.Sprintf("extraction quality %.2f below %.2f", ext.Quality, i.cfg.MinQuality)
	}
	if n := utf8.RuneCountInString(cleaned); n < i.cfg.MinTextRunes || strings.TrimSpace(cleaned) == "" {
		return fmt.Sprintf("cleaned text has %d characters, minimum is %d", n, i.cfg.MinTextRunes)
	}
	return ""
}

// embedChunks returns one vector per chunk, or nil when embeddings are not
// stored at all.
func (i *DocumentIngestor) embedChunks(ctx context.Context, chunks []TextChunk) ([][]float32, error) {
	if i.embedder == nil || !i.store.VectorEnabled() {
		return nil, nil
	}
	t := time.Now()
	texts := make([]string, len(chunks))
	for k, c := range chunks {
		texts[k] = c.Text
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts, core.TaskDocument)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(chunks))
	}
	metrics.CaptureStage("embed", time.Since(t))
	return vecs, nil
}

func (i *DocumentIngestor) buildRecords(item models.FeedItem, ext *core.Extraction, text string, chunks []TextChunk, vecs [][]float32) (*models.Document, []models.Chunk) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.TrimSpace(ext.Title)
	}
	if title == "" {
		title = item.URL
	}
	docType := ResolveDocType(item.DocType, title)
	epoch := ResolveEpoch(item.Published, title, i.now())

	doc := &models.Document{
		ID:               uuid.NewString(),
		URL:              item.URL,
		Title:            title,
		Source:           item.Source,
		DocType:          docType,
		Content:          text,
		KBEpoch:          epoch,
		ExtractionMethod: ext.Method,
		QualityScore:     ext.Quality,
		OCRPages:         ext.OCRPages,
		ChunkCount:       len(chunks),
	}
	if vecs != nil {
		doc.Embedding = llm.MeanPool(vecs)
	}

	rows := make([]models.Chunk, len(chunks))
	for k, c := range chunks {
		rows[k] = models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Text,
			TokenCount: c.TokenCount,
			KBEpoch:    epoch,
			SourceURL:  item.URL,
			Source:     item.Source,
			Title:      title,
			DocType:    docType,
			IsJunk:     ScoreText(c.Text) < i.cfg.JunkChunkThreshold,
		}
		if vecs != nil {
			rows[k].Embedding = vecs[k]
		}
	}
	return doc, rows
}

// archiveSource keeps a copy of the fetched bytes. Failures are logged only.
func (i *DocumentIngestor) archiveSource(ctx context.Context, item models.FeedItem, res *core.FetchResult) {
	if i.archive == nil {
		return
	}
	key := objectclient.RawSourceKey(item.Source, item.URL)
	if _, err := i.archive.UploadFile(ctx, key, res.Body, res.ContentType); err != nil {
		i.log.Warn("raw source archive failed", "url", item.URL, "key", key, "error", err)
	}
}

// IngestBatch ingests items with bounded concurrency. One document's failure
// never affects the others.
func (i *DocumentIngestor) IngestBatch(ctx context.Context, items []models.FeedItem, force bool) models.BatchSummary {
	start := time.Now()
	outcomes := make([]models.Outcome, len(items))

	var g errgroup.Group
	g.SetLimit(i.cfg.Concurrency)
	for idx, item := range items {
		g.Go(func() error {
			outcomes[idx] = i.IngestOne(ctx, item, force)
			return nil
		})
	}
	_ = g.Wait()

	summary := models.BatchSummary{Outcomes: make([]models.Outcome, 0, len(items))}
	for _, o := range outcomes {
		summary.Add(o)
	}
	summary.Duration = time.Since(start)
	i.log.Info("batch finished",
		"items", len(items), "new", summary.New, "skipped", summary.Skipped,
		"rejected_quality", summary.RejectedQuality, "failed", summary.Failed,
		"duration", summary.Duration)
	return summary
}

// Cancel aborts every in-flight ingestion of url. It reports whether any
// was running.
func (i *DocumentIngestor) Cancel(url string) bool {
	return i.inflight.cancel(strings.TrimSpace(url)) > 0
}

// Start runs numWorkers goroutines draining the job queue until ctx ends.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = i.cfg.Concurrency
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("worker shutting down", "worker", w)
					return
				case job := <-i.jobs:
					i.IngestOne(ctx, job.item, job.force)
				}
			}
		}(w)
	}
}

// Enqueue schedules an item for the background workers, blocking while the
// queue is full.
func (i *DocumentIngestor) Enqueue(ctx context.Context, item models.FeedItem, force bool) error {
	select {
	case i.jobs <- ingestJob{item: item, force: force}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *DocumentIngestor) logOutcome(o models.Outcome) {
	args := []any{
		"url", o.URL, "status", o.Status, "state", o.State, "chunks", o.Chunks,
		"method", o.Method, "quality", o.Quality, "duration", o.Duration,
	}
	if len(o.OCRPages) > 0 {
		args = append(args, "ocr_pages", o.OCRPages)
	}
	if o.Status != models.OutcomeSkippedDuplicate && !State(o.State).Terminal() {
		i.log.Error("outcome left in a non-terminal state", args...)
	}
	switch o.Status {
	case models.OutcomeFailed:
		i.log.Warn("document failed", append(args, "reason", o.Reason, "transient", o.Transient)...)
	case models.OutcomeRejectedQuality:
		i.log.Info("document rejected", append(args, "reason", o.Reason)...)
	default:
		i.log.Info("document processed", args...)
	}
}
