package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/cache"
	"github.com/relayforge/corpus-engine/internal/observability"
)

// searchCacheTTL bounds staleness of cached responses; ingestion that
// completes after a response was cached becomes visible within this
// window without explicit invalidation.
const searchCacheTTL = 60 * time.Second

// Reranker reorders search results. The rerank chain implements it; a
// nil Reranker leaves results in retrieval order.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

// Config selects the default mode and toggles trust rescoring.
type Config struct {
	Mode         string
	TrustScoring bool
}

// Service is the retrieval entry point. It dispatches to vector or
// hybrid search, applies trust rescoring and reranking, and caches
// complete responses per collection.
type Service struct {
	logger   *observability.Logger
	vector   *VectorSearcher
	hybrid   *HybridSearcher
	rescorer *Rescorer
	reranker Reranker
	cache    cache.Client
	config   Config
}

func NewService(logger *observability.Logger, vector *VectorSearcher, hybrid *HybridSearcher, rescorer *Rescorer, reranker Reranker, cacheClient cache.Client, cfg Config) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModeVector
	}
	return &Service{
		logger:   logger.WithComponent("search"),
		vector:   vector,
		hybrid:   hybrid,
		rescorer: rescorer,
		reranker: reranker,
		cache:    cacheClient,
		config:   cfg,
	}
}

// Search runs the full retrieval flow for one query.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.TopK < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, req.TopK)
	}

	mode := req.Mode
	if mode == "" {
		mode = s.config.Mode
	}
	if mode != ModeVector && mode != ModeHybrid {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	cacheKey := cache.SearchKey(req.CollectionID.String(), s.digest(req, mode))
	if cached := s.lookup(ctx, cacheKey); cached != nil {
		cached.SearchTimeMs = time.Since(start).Milliseconds()
		return cached, nil
	}

	var (
		results []Result
		meta    ResponseMetadata
	)
	switch mode {
	case ModeVector:
		vectorResults, provider, err := s.vector.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		results = vectorResults
		meta = ResponseMetadata{SearchMode: mode, EmbeddingProvider: provider}
	case ModeHybrid:
		fused, stats, provider, err := s.hybrid.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		results = fused
		meta = ResponseMetadata{
			SearchMode:        mode,
			VectorCount:       stats.VectorCount,
			BM25Count:         stats.BM25Count,
			FusedCount:        stats.FusedCount,
			EmbeddingProvider: provider,
		}
	}

	if s.config.TrustScoring {
		s.rescorer.Apply(results)
		meta.TrustScoringApplied = true
	}

	if s.reranker != nil && len(results) > 0 {
		reranked, err := s.reranker.Rerank(ctx, req.Query, results)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rerank failed, keeping retrieval order")
		} else {
			results = reranked
		}
	}

	response := &Response{
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
		SearchTimeMs: time.Since(start).Milliseconds(),
		Metadata:     meta,
	}
	s.store(ctx, cacheKey, response)
	return response, nil
}

// InvalidateCollection drops every cached response for a collection.
// Called after document deletion; ingestion relies on the short TTL.
func (s *Service) InvalidateCollection(ctx context.Context, collectionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPrefix(ctx, cache.SearchPrefix(collectionID.String())); err != nil {
		s.logger.Warn().Err(err).
			Str("collection_id", collectionID.String()).
			Msg("search cache invalidation failed")
	}
}

func (s *Service) digest(req Request, mode string) string {
	minSimilarity := "-"
	if req.MinSimilarity != nil {
		minSimilarity = strconv.FormatFloat(*req.MinSimilarity, 'f', -1, 64)
	}
	weights := "-"
	if req.Weights != nil {
		weights = fmt.Sprintf("%g,%g", req.Weights.Vector, req.Weights.BM25)
	}
	raw := strings.Join([]string{
		mode,
		req.Query,
		strconv.Itoa(req.TopK),
		minSimilarity,
		weights,
		strconv.Itoa(req.RRFK),
		req.Provider,
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

func (s *Service) lookup(ctx context.Context, key string) *Response {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		s.logger.Warn().Err(err).Msg("dropping undecodable cached search response")
		return nil
	}
	return &response
}

func (s *Service) store(ctx context.Context, key string, response *Response) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not marshal search response for cache")
		return
	}
	if err := s.cache.Set(ctx, key, data, searchCacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("could not cache search response")
	}
}
