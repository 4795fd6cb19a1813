// Package main provides the corpus engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/relayforge/corpus-engine/internal/api/rpc"
	"github.com/relayforge/corpus-engine/internal/cache"
	"github.com/relayforge/corpus-engine/internal/config"
	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/crawl"
	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/extract"
	"github.com/relayforge/corpus-engine/internal/ingest"
	"github.com/relayforge/corpus-engine/internal/llm"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/rerank"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
	"github.com/relayforge/corpus-engine/internal/synthesis"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "corpus-api",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("search_mode", cfg.Search.Mode).
		Str("cache_driver", cfg.Cache.Driver).
		Bool("synthesis", cfg.Synthesis.Enabled).
		Msg("Starting corpus engine API")

	ctx := context.Background()

	// Database
	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open database")
	}
	if err := storage.Migrate(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("could not apply migrations")
	}
	repos := storage.NewRepositories(db)

	files, err := storage.NewFileStore(cfg.Storage.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("could not open file store")
	}

	// Search-response cache. A nil client disables caching entirely.
	var cacheClient cache.Client
	if cfg.Cache.Enabled {
		switch cfg.Cache.Driver {
		case "redis":
			redisClient, err := cache.NewRedisClient(cache.RedisConfig{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
				PoolSize: cfg.Cache.Redis.PoolSize,
			})
			if err != nil {
				logger.Warn().Err(err).Msg("redis unreachable, falling back to in-memory cache")
				cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
			} else {
				cacheClient = redisClient
			}
		default:
			cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
	}

	// Cost tracking
	runtime := cost.NewRuntime()
	tracker := cost.NewTracker(logger, cost.TrackerConfig{
		MonthlyBudgetUSD: cfg.Budget.MonthlyUSD,
		AlertsEnabled:    cfg.Budget.AlertsEnabled,
	}, repos.Costs, repos.Alerts, runtime)

	// Embedding providers. The local client is mandatory; cloud clients
	// register only when their API keys are configured.
	clients := map[string]embedding.Client{
		embedding.ProviderLocal: embedding.NewLocalClient(embedding.LocalConfig{
			BaseURL:   cfg.Embedding.Local.BaseURL,
			Model:     cfg.Embedding.Local.Model,
			Dimension: cfg.Embedding.Local.Dimension,
		}),
	}
	if cfg.Embedding.OpenAI.APIKey != "" {
		openaiClient, err := embedding.NewOpenAIClient(embedding.OpenAIConfig{
			APIKey:    cfg.Embedding.OpenAI.APIKey,
			Model:     cfg.Embedding.OpenAI.Model,
			Dimension: cfg.Embedding.OpenAI.Dimension,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("could not build openai embedding client")
		}
		clients[embedding.ProviderGeneralCloud] = openaiClient
	}
	if cfg.Embedding.Voyage.APIKey != "" {
		voyageClient, err := embedding.NewVoyageClient(embedding.VoyageConfig{
			APIKey:    cfg.Embedding.Voyage.APIKey,
			BaseURL:   cfg.Embedding.Voyage.BaseURL,
			Model:     cfg.Embedding.Voyage.Model,
			Dimension: cfg.Embedding.Voyage.Dimension,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("could not build voyage embedding client")
		}
		clients[embedding.ProviderCodeCloud] = voyageClient
	}

	embedRouter, err := embedding.NewRouter(logger, embedding.RouterConfig{
		DefaultProvider: cfg.Embedding.ProviderOverride,
		TypeDefaults: map[string]string{
			"docs":     cfg.Embedding.DocProvider,
			"code":     cfg.Embedding.CodeProvider,
			"personal": cfg.Embedding.WritingProvider,
		},
		CacheSize: cfg.Embedding.CacheSize,
	}, clients, runtime, tracker)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build embedding router")
	}

	// Reranking. The cloud client needs an API key, the local one does not;
	// the chain degrades to retrieval order when neither is reachable.
	var cohereClient *rerank.CohereClient
	if cfg.Rerank.Cloud.APIKey != "" {
		cohereClient, err = rerank.NewCohereClient(rerank.CohereConfig{
			APIKey:  cfg.Rerank.Cloud.APIKey,
			BaseURL: cfg.Rerank.Cloud.BaseURL,
			Model:   cfg.Rerank.Cloud.Model,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("could not build cohere rerank client")
		}
	}
	localRerank := rerank.NewLocalClient(rerank.LocalConfig{
		BaseURL:   cfg.Rerank.Local.BaseURL,
		Model:     cfg.Rerank.Local.Model,
		BatchSize: cfg.Rerank.BatchSize,
	})
	rerankChain := rerank.NewChain(logger, rerank.Config{
		Provider:         cfg.Rerank.Provider,
		ProviderOverride: cfg.Rerank.ProviderOverride,
		MaxCandidates:    cfg.Rerank.MaxCandidates,
		DefaultTopK:      cfg.Rerank.DefaultTopK,
	}, cohereClient, localRerank, runtime, tracker)

	// Ingestion
	extractor := extract.NewService(logger)
	pipeline := ingest.NewPipeline(logger, ingest.PipelineConfig{
		BatchSize:    cfg.Ingest.EmbeddingBatchSize,
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	}, repos.Documents, repos.Chunks, files, extractor, embedRouter)
	queue := ingest.NewQueue(logger, pipeline, repos.Documents, ingest.QueueConfig{
		Workers: cfg.Ingest.MaxConcurrentDocs,
	})
	if requeued, err := queue.Recover(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not requeue interrupted documents")
	} else if requeued > 0 {
		logger.Info().Int("documents", requeued).Msg("requeued interrupted documents")
	}

	// Crawler
	var fetcher crawl.Fetcher
	if cfg.Crawler.Fetcher == "browser" {
		fetcher = crawl.NewBrowserFetcher(cfg.Crawler.UserAgent)
	} else {
		fetcher = crawl.NewHTTPFetcher(cfg.Crawler.NavTimeout, cfg.Crawler.UserAgent)
	}
	crawler := crawl.NewCrawler(logger, crawl.Config{
		ContentMode:     cfg.Crawler.ContentMode,
		NavTimeout:      cfg.Crawler.NavTimeout,
		PolitenessDelay: cfg.Crawler.PolitenessDelay,
		DefaultMaxPages: cfg.Crawler.MaxPages,
		UserAgent:       cfg.Crawler.UserAgent,
	}, fetcher, repos.Documents, files, queue)

	// Retrieval
	vector := search.NewVectorSearcher(logger, repos.Chunks, repos.Documents, embedRouter, search.VectorConfig{
		TopK:          cfg.Search.TopK,
		MinSimilarity: cfg.Search.MinSimilarity,
	})
	bm25 := search.NewBM25Searcher(logger, repos.Chunks, search.BM25Config{
		TopK:     cfg.Search.BM25TopK,
		Language: cfg.Search.FTSLanguage,
	})
	hybrid := search.NewHybridSearcher(logger, vector, bm25, search.HybridConfig{
		TopK:         cfg.Search.TopK,
		VectorWeight: cfg.Search.VectorWeight,
		BM25Weight:   cfg.Search.BM25Weight,
		RRFK:         cfg.Search.RRFK,
	})
	searchService := search.NewService(logger, vector, hybrid, search.NewRescorer(logger), rerankChain, cacheClient, search.Config{
		Mode:         cfg.Search.Mode,
		TrustScoring: cfg.Search.TrustScoring,
	})

	// Synthesis is feature gated: when disabled the engine stays nil and
	// the router never mounts the compare route.
	var synthesisEngine *synthesis.Engine
	if cfg.Synthesis.Enabled {
		var llmClient *llm.Client
		if cfg.Synthesis.AnthropicAPIKey != "" {
			llmClient, err = llm.NewClient(logger, llm.ClientConfig{
				APIKey: cfg.Synthesis.AnthropicAPIKey,
				Model:  cfg.Synthesis.Model,
			})
			if err != nil {
				logger.Fatal().Err(err).Msg("could not build llm client")
			}
		} else if cfg.Synthesis.ContradictionDetection {
			logger.Warn().Msg("contradiction detection needs an anthropic api key, running without it")
		}
		synthesisEngine = synthesis.NewEngine(logger, synthesis.Config{
			MaxResults:             cfg.Synthesis.MaxResults,
			MinOverlap:             cfg.Synthesis.MinOverlap,
			MaxOverlap:             cfg.Synthesis.MaxOverlap,
			MaxPairs:               cfg.Synthesis.MaxPairs,
			ContradictionDetection: cfg.Synthesis.ContradictionDetection,
		}, embedRouter, llmClient, runtime, tracker)
	}

	rpcService := rpc.NewSearchService(logger, searchService, repos.Collections)

	// Initialize router with all handlers
	router := NewRouter(logger, Deps{
		Config:    cfg,
		DB:        db,
		Repos:     repos,
		Files:     files,
		Queue:     queue,
		Crawler:   crawler,
		Search:    searchService,
		Synthesis: synthesisEngine,
		Tracker:   tracker,
		RPC:       rpcService,
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown: stop accepting requests, drain ingestion workers
	// while the pool is still open, flush cost records, then release the
	// cache and the pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ingest queue drain failed")
	}
	tracker.Wait()
	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("cache close failed")
		}
	}
	if err := db.Close(); err != nil {
		logger.Warn().Err(err).Msg("database close failed")
	}

	logger.Info().Msg("Server stopped")
}
