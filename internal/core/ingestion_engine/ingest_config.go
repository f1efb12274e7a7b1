package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"github.com/markdave123-py/lexkb/internal/config"
	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/models"
)

// IngestConfig holds the coordinator's policy knobs.
type IngestConfig struct {
	Chunk              ChunkOptions
	MinQuality         float64
	MinTextRunes       int
	MaxGarbageRatio    float64
	JunkChunkThreshold float64
	DocumentTimeout    time.Duration
	Concurrency        int
	QueueSize          int
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk:              DefaultChunkOptions(),
		MinQuality:         0.4,
		MinTextRunes:       200,
		MaxGarbageRatio:    0.3,
		JunkChunkThreshold: 0.35,
		DocumentTimeout:    10 * time.Minute,
		Concurrency:        4,
		QueueSize:          64,
	}
}

func FromSettings(s config.IngestSettings) IngestConfig {
	c := DefaultIngestConfig()
	c.Chunk = ChunkOptions{MaxTokens: s.ChunkMaxTokens, OverlapTokens: s.ChunkOverlapTokens}
	c.MinQuality = s.MinQuality
	c.MinTextRunes = s.MinTextRunes
	c.MaxGarbageRatio = s.MaxGarbageRatio
	c.JunkChunkThreshold = s.JunkChunkThreshold
	if s.DocumentTimeout > 0 {
		c.DocumentTimeout = s.DocumentTimeout
	}
	if s.Concurrency > 0 {
		c.Concurrency = s.Concurrency
	}
	return c
}

// PDFOptionsFromSettings maps the OCR knobs onto the PDF extractor.
func PDFOptionsFromSettings(s config.IngestSettings) PDFOptions {
	o := DefaultPDFOptions()
	o.PageQualityThreshold = s.PageQualityThreshold
	o.ScanQualityThreshold = s.ScanQualityThreshold
	o.SampleDepth = s.OCRSampleDepth
	o.MaxOCRPages = s.MaxOCRPages
	if s.OCRTimeout > 0 {
		o.OCRTimeout = s.OCRTimeout
	}
	if s.OCRLanguage != "" {
		o.Language = s.OCRLanguage
	}
	return o
}

type ingestJob struct {
	item  models.FeedItem
	force bool
}

// DocumentIngestor drives documents through fetch, extraction, quality
// gating, chunking, embedding and persistence.
type DocumentIngestor struct {
	store     core.DocumentStore
	fetcher   core.Fetcher
	extractor core.DocumentExtractor
	embedder  core.EmbeddingProvider // nil disables embeddings
	archive   core.ObjectClient      // nil disables the raw source archive
	cfg       IngestConfig
	now       func() time.Time
	log       *logger.Logger

	inflight cancelRegistry
	jobs     chan ingestJob
}

// cancelRegistry tracks the cancel functions of in-flight documents. The
// same URL may be in flight more than once.
type cancelRegistry struct {
	mu    sync.Mutex
	next  uint64
	byURL map[string]map[uint64]context.CancelFunc
}

func (r *cancelRegistry) add(url string, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byURL == nil {
		r.byURL = make(map[string]map[uint64]context.CancelFunc)
	}
	r.next++
	if r.byURL[url] == nil {
		r.byURL[url] = make(map[uint64]context.CancelFunc)
	}
	r.byURL[url][r.next] = cancel
	return r.next
}

func (r *cancelRegistry) remove(url string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byURL[url], id)
	if len(r.byURL[url]) == 0 {
		delete(r.byURL, url)
	}
}

func (r *cancelRegistry) cancel(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.byURL[url] {
		c()
		n++
	}
	return n
}
