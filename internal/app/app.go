package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/lexkb/internal/config"
	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/core/cache"
	db "github.com/markdave123-py/lexkb/internal/core/database"
	"github.com/markdave123-py/lexkb/internal/core/fetcher"
	ingestor "github.com/markdave123-py/lexkb/internal/core/ingestion_engine"
	"github.com/markdave123-py/lexkb/internal/core/llm"
	objectclient "github.com/markdave123-py/lexkb/internal/core/object-client"
	"github.com/markdave123-py/lexkb/internal/core/retriever"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/services"
)

// App owns every long-lived dependency. Optional ones are nil when their
// configuration is missing.
type App struct {
	cfg       *config.Config
	DBClient  *db.DatabaseClient
	Archive   *objectclient.S3Client
	Cache     *cache.RedisQueryCache
	Embedder  *llm.GeminiEmbedder
	Ingestor  *ingestor.DocumentIngestor
	Retriever *retriever.HybridRetriever
	Server    *Server
	log       *logger.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, log: logger.New("app")}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.DBClient, err = db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.log.Info("database ready", "vector_enabled", a.DBClient.VectorEnabled())

	// Interface values stay untyped nil when a dependency is disabled.
	var (
		embedder core.EmbeddingProvider
		archive  core.ObjectClient
		qcache   core.QueryCache
	)

	if cfg.AIAPIKey != "" {
		a.Embedder, err = llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, llm.EmbedderOptions{
			Model:             cfg.EmbedModel,
			Dimension:         cfg.EmbedDim,
			BatchSize:         cfg.EmbedBatchSize,
			Timeout:           cfg.EmbedTimeout,
			MaxRetries:        cfg.EmbedMaxRetries,
			RequestsPerSecond: cfg.EmbedRPS,
		})
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		embedder = a.Embedder
	} else {
		a.log.Warn("GEMINI_API_KEY not set, embeddings disabled; retrieval runs full-text only")
	}

	if cfg.S3Enabled() {
		a.Archive, err = objectclient.NewS3Client(initCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		archive = a.Archive
	}

	if cfg.RedisAddr != "" {
		c, cerr := cache.NewRedisQueryCache(initCtx, cfg.RedisAddr, cfg.RedisDB, cfg.QueryCacheTTL)
		if cerr != nil {
			a.log.Warn("query cache unavailable, continuing without it", "addr", cfg.RedisAddr, "error", cerr)
		} else {
			a.Cache = c
			qcache = c
		}
	}

	extractor := ingestor.NewContentExtractor(newPDFExtractor(cfg, a.log))
	fetch := fetcher.New(fetcher.Options{
		Timeout:           cfg.Ingest.FetchTimeout,
		MaxBytes:          cfg.Ingest.FetchMaxBytes,
		RequestsPerSecond: cfg.Ingest.FetchRPS,
	})

	a.Ingestor = ingestor.NewDocumentIngestor(a.DBClient, fetch, extractor, embedder, archive, ingestor.FromSettings(cfg.Ingest))

	a.Retriever = retriever.NewHybridRetriever(a.DBClient, embedder, qcache, retriever.Options{
		Weights: retriever.Weights{
			FTS:     cfg.Retrieval.WeightFTS,
			Vector:  cfg.Retrieval.WeightVector,
			Recency: cfg.Retrieval.WeightRecency,
		},
		HalfLifeDays:        cfg.Retrieval.RecencyHalfLifeDays,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		VectorTimeout:       cfg.Retrieval.VectorTimeout,
	})

	a.Server = NewServer(cfg, Handlers{
		DB:        a.DBClient,
		Retriever: a.Retriever,
		Ingest:    services.NewIngestService(a.Ingestor, 0),
		Documents: services.NewDocumentService(a.DBClient, archive),
	})
	ready = true
	return a, nil
}

// newPDFExtractor wires OCR when both pdftoppm and Tesseract are present.
func newPDFExtractor(cfg *config.Config, log *logger.Logger) *ingestor.PDFExtractor {
	var raster ingestor.Rasterizer
	r, rerr := ingestor.NewPdftoppmRasterizer(cfg.Ingest.OCRDPI)
	if rerr == nil {
		raster = r
	}
	ocr, oerr := ingestor.NewOCREngine()
	if err := errors.Join(rerr, oerr); err != nil {
		log.Warn("ocr disabled, scanned pdfs keep their text layer only", "error", err)
	}
	return ingestor.NewPDFExtractor(ingestor.NewTextLayerReader(), raster, ocr, ingestor.PDFOptionsFromSettings(cfg.Ingest))
}

// Run starts the ingestion workers and serves HTTP until ctx ends, then
// drains the server.
func (a *App) Run(ctx context.Context) error {
	a.Ingestor.Start(ctx, a.cfg.Ingest.Concurrency)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
