package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/relayforge/corpus-engine/internal/observability"
)

// HybridConfig tunes fusion defaults.
type HybridConfig struct {
	TopK         int
	VectorWeight float64
	BM25Weight   float64
	RRFK         int
}

func (c HybridConfig) withDefaults() HybridConfig {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if !validWeights(c.VectorWeight, c.BM25Weight) {
		c.VectorWeight = 0.7
		c.BM25Weight = 0.3
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	return c
}

// FusionStats counts the inputs and output of one fusion pass.
type FusionStats struct {
	VectorCount int
	BM25Count   int
	FusedCount  int
}

// HybridSearcher runs vector and BM25 search in parallel and fuses the
// two rankings with weighted reciprocal rank fusion.
type HybridSearcher struct {
	logger *observability.Logger
	vector *VectorSearcher
	bm25   *BM25Searcher
	config HybridConfig
}

func NewHybridSearcher(logger *observability.Logger, vector *VectorSearcher, bm25 *BM25Searcher, cfg HybridConfig) *HybridSearcher {
	return &HybridSearcher{
		logger: logger.WithComponent("search"),
		vector: vector,
		bm25:   bm25,
		config: cfg.withDefaults(),
	}
}

// Search fuses vector and BM25 rankings. Both branches retrieve an
// expanded pool of max(topK, topK*3) candidates so late-ranked chunks
// can still surface through fusion. A query with no full-text terms
// degrades to vector-only results rather than failing.
func (s *HybridSearcher) Search(ctx context.Context, req Request) ([]Result, FusionStats, string, error) {
	var stats FusionStats

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, stats, "", ErrEmptyQuery
	}
	if req.TopK < 0 {
		return nil, stats, "", fmt.Errorf("%w: %d", ErrInvalidTopK, req.TopK)
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.config.TopK
	}
	pool := topK * 3
	if pool < topK {
		pool = topK
	}
	rrfK := req.RRFK
	if rrfK <= 0 {
		rrfK = s.config.RRFK
	}
	weights := s.resolveWeights(req.Weights)

	var (
		vectorResults []Result
		bm25Results   []Result
		provider      string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vreq := req
		vreq.Query = query
		vreq.TopK = pool
		results, usedProvider, err := s.vector.Search(gctx, vreq)
		if err != nil {
			return err
		}
		vectorResults = results
		provider = usedProvider
		return nil
	})
	g.Go(func() error {
		breq := req
		breq.Query = query
		breq.TopK = pool
		results, err := s.bm25.Search(gctx, breq)
		if errors.Is(err, ErrTermlessQuery) {
			return nil
		}
		if err != nil {
			return err
		}
		bm25Results = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, stats, "", err
	}

	fused := fuse(vectorResults, bm25Results, weights, rrfK)
	stats = FusionStats{
		VectorCount: len(vectorResults),
		BM25Count:   len(bm25Results),
		FusedCount:  len(fused),
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}

	s.logger.Debug().
		Str("collection_id", req.CollectionID.String()).
		Int("vector_count", stats.VectorCount).
		Int("bm25_count", stats.BM25Count).
		Int("fused_count", stats.FusedCount).
		Int("returned", len(fused)).
		Msg("hybrid search complete")
	return fused, stats, provider, nil
}

// resolveWeights picks the first valid weight pair from the request,
// then the configuration, then the hard defaults, and normalizes it to
// sum to 1.
func (s *HybridSearcher) resolveWeights(custom *Weights) Weights {
	weights := Weights{Vector: s.config.VectorWeight, BM25: s.config.BM25Weight}
	if custom != nil {
		if validWeights(custom.Vector, custom.BM25) {
			weights = *custom
		} else {
			s.logger.Warn().
				Float64("vector", custom.Vector).
				Float64("bm25", custom.BM25).
				Msg("invalid fusion weights, using defaults")
		}
	}
	sum := weights.Vector + weights.BM25
	weights.Vector /= sum
	weights.BM25 /= sum
	return weights
}

func validWeights(vector, bm25 float64) bool {
	for _, w := range []float64{vector, bm25} {
		if w <= 0 || math.IsInf(w, 0) || math.IsNaN(w) {
			return false
		}
	}
	return true
}

// fuse merges the two rankings with weighted RRF: a chunk at 0-based
// rank i in source s contributes weight_s/(rrfK+i+1) to its fused
// score. Ties keep insertion order, vector list first.
func fuse(vectorResults, bm25Results []Result, weights Weights, rrfK int) []Result {
	byID := make(map[int64]*Result, len(vectorResults)+len(bm25Results))
	order := make([]int64, 0, len(vectorResults)+len(bm25Results))

	for i, res := range vectorResults {
		merged := res
		merged.VectorScore = res.Similarity
		merged.FusedScore = weights.Vector / float64(rrfK+i+1)
		merged.Source = SourceVector
		byID[res.ChunkID] = &merged
		order = append(order, res.ChunkID)
	}
	for i, res := range bm25Results {
		contribution := weights.BM25 / float64(rrfK+i+1)
		if existing, ok := byID[res.ChunkID]; ok {
			existing.BM25Score = res.BM25Score
			existing.FusedScore += contribution
			existing.Source = SourceBoth
			continue
		}
		merged := res
		merged.Rank = 0
		merged.FusedScore = contribution
		merged.Source = SourceBM25
		byID[res.ChunkID] = &merged
		order = append(order, res.ChunkID)
	}

	fused := make([]Result, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].FusedScore > fused[j].FusedScore
	})
	return fused
}
