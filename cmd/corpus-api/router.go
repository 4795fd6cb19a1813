// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/relayforge/corpus-engine/cmd/corpus-api/handlers"
	"github.com/relayforge/corpus-engine/cmd/corpus-api/middleware"
	"github.com/relayforge/corpus-engine/internal/api/rpc"
	"github.com/relayforge/corpus-engine/internal/config"
	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/crawl"
	"github.com/relayforge/corpus-engine/internal/ingest"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
	"github.com/relayforge/corpus-engine/internal/synthesis"
)

// Deps carries the constructed services the HTTP surface is wired from.
// Synthesis is nil when the feature is disabled; its route is then never
// mounted and the path serves a plain 404.
type Deps struct {
	Config    *config.Config
	DB        *sql.DB
	Repos     *storage.Repositories
	Files     *storage.FileStore
	Queue     *ingest.Queue
	Crawler   *crawl.Crawler
	Search    *search.Service
	Synthesis *synthesis.Engine
	Tracker   *cost.Tracker
	RPC       *rpc.SearchService
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Health checks (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"corpus-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	// Initialize handlers
	collectionHandler := handlers.NewCollectionHandler(logger, deps.Repos.Collections, deps.Repos.Documents, deps.Files, deps.Search)
	documentHandler := handlers.NewDocumentHandler(logger, deps.Repos.Documents, deps.Files, deps.Search, deps.Queue)
	ingestHandler := handlers.NewIngestHandler(logger, deps.Repos.Collections, deps.Repos.Documents, deps.Files, deps.Queue, deps.Crawler, deps.Config.Storage.MaxFileSize)
	searchHandler := handlers.NewSearchHandler(logger, deps.Repos.Collections, deps.Search)
	costsHandler := handlers.NewCostsHandler(logger, deps.Tracker)

	r.Route("/api", func(r chi.Router) {
		r.Route("/collections", func(r chi.Router) {
			r.Post("/", collectionHandler.Create)
			r.Get("/", collectionHandler.List)
			r.Get("/{id}", collectionHandler.Get)
			r.Delete("/{id}", collectionHandler.Delete)
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/", ingestHandler.Upload)
			r.Post("/url", ingestHandler.FromURL)
			r.Get("/status/{doc_id}", ingestHandler.Status)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", documentHandler.List)
			r.Get("/{id}", documentHandler.Get)
			r.Delete("/{id}", documentHandler.Delete)
			r.Post("/{id}/reingest", documentHandler.Reingest)
		})

		r.Post("/search", searchHandler.Search)

		if deps.Synthesis != nil {
			synthesisHandler := handlers.NewSynthesisHandler(logger, deps.Repos.Collections, deps.Search, deps.Synthesis)
			r.Post("/synthesis/compare", synthesisHandler.Compare)
		}

		r.Route("/costs", func(r chi.Router) {
			r.Get("/summary", costsHandler.Summary)
			r.Get("/history", costsHandler.History)
			r.Get("/alerts", costsHandler.Alerts)
		})
	})

	// Connect RPC mirror of POST /api/search.
	if deps.RPC != nil {
		procedure, handler := deps.RPC.Handler()
		r.Handle("/rpc"+procedure, handler)
	}

	return r
}
