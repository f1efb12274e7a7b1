package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/lexkb/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/lexkb/internal/api/middlewares"
	"github.com/markdave123-py/lexkb/internal/config"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
	"github.com/markdave123-py/lexkb/internal/services"
)

// Handlers are the dependencies the routes call into.
type Handlers struct {
	DB        handlers.Pinger
	Retriever handlers.Retriever
	Ingest    *services.IngestService
	Documents *services.DocumentService
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, h Handlers) *Server {
	log := logger.New("http")
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, h, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// NewRouter returns the chi router serving the API.
func NewRouter(cfg *config.Config, h Handlers, log *logger.Logger) http.Handler {
	retrieveHandler := handlers.NewRetrieveHandler(h.Retriever)
	ingestHandler := handlers.NewIngestHandler(h.Ingest)
	docHandler := handlers.NewDocumentHandler(h.Documents)
	healthHandler := handlers.NewHealthHandler(h.DB)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	route := func(name string, fn http.HandlerFunc) http.Handler {
		return metrics.Instrument(name, fn)
	}

	r.Get("/healthz", route("healthz", healthHandler.Healthz).ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.With(middleware.Timeout(30*time.Second)).
			Post("/retrieve", route("retrieve", retrieveHandler.Retrieve).ServeHTTP)

		// admin endpoints
		api.Group(func(admin chi.Router) {
			admin.Use(appMiddleware.JWT(cfg.JWTSecret))
			admin.Post("/ingest", route("ingest", ingestHandler.Ingest).ServeHTTP)
			admin.Post("/ingest/cancel", route("ingest_cancel", ingestHandler.Cancel).ServeHTTP)

			admin.Group(func(docs chi.Router) {
				docs.Use(middleware.Timeout(30 * time.Second))
				docs.Get("/documents", route("documents_list", docHandler.ListDocuments).ServeHTTP)
				docs.Get("/documents/lookup", route("documents_lookup", docHandler.LookupDocument).ServeHTTP)
				docs.Get("/documents/raw", route("documents_raw", docHandler.RawSource).ServeHTTP)
				docs.Delete("/documents", route("documents_delete", docHandler.DeleteDocument).ServeHTTP)
			})
		})
	})
	return r
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
