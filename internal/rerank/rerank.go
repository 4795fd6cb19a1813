// Package rerank re-orders search shortlists with a cross-encoder. A cloud
// provider scores (query, text) pairs when configured and credentialed, an
// on-host model takes over when the cloud is unavailable, and a pass-through
// keeps retrieval order when neither can run.
package rerank

import (
	"context"
	"sort"

	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	// ProviderCloud scores candidates with the hosted cross-encoder API.
	ProviderCloud = "cloud_rerank"
	// ProviderLocal scores candidates with the on-host inference server.
	ProviderLocal = "local_rerank"
	// ProviderNone passes results through with rerank_score = similarity.
	ProviderNone = "none"
)

// maxCandidateCap bounds how many results any provider is asked to score,
// regardless of configuration or per-call options.
const maxCandidateCap = 50

// scorer scores candidate texts against a query. Scores align with the
// input order; higher means more relevant.
type scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
	Model() string
}

// usageTracker records billable provider calls.
type usageTracker interface {
	Track(ctx context.Context, u cost.Usage)
}

// Config controls provider selection and scoring bounds.
type Config struct {
	// Provider is the configured default: cloud_rerank, local_rerank, none.
	Provider string
	// ProviderOverride takes precedence over Provider when set.
	ProviderOverride string
	// MaxCandidates bounds the scored pool (hard-capped at 50).
	MaxCandidates int
	// DefaultTopK applies when an explicit call passes no top_k.
	DefaultTopK int
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	if c.MaxCandidates <= 0 || c.MaxCandidates > maxCandidateCap {
		c.MaxCandidates = maxCandidateCap
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
	return c
}

// Options tune a single Rerank call. Zero values fall back to the
// configured defaults.
type Options struct {
	// Provider overrides selection for this call.
	Provider string
	// TopK caps the returned list. Zero means the configured default;
	// it is always bounded by the input length.
	TopK int
	// MaxCandidates bounds the scored pool for this call.
	MaxCandidates int
}

// Chain selects a reranking provider per call and degrades cloud to local
// to pass-through so a search never fails because reranking did.
type Chain struct {
	logger  *observability.Logger
	config  Config
	cloud   scorer
	local   scorer
	runtime *cost.Runtime
	tracker usageTracker
}

// NewChain builds the provider chain. Either client may be nil: a nil cloud
// client (typically a missing credential) degrades cloud selections to
// local, and a nil local client degrades to pass-through.
func NewChain(logger *observability.Logger, cfg Config, cloud *CohereClient, local *LocalClient, runtime *cost.Runtime, tracker usageTracker) *Chain {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	c := &Chain{
		logger:  logger.WithComponent("rerank"),
		config:  cfg.withDefaults(),
		runtime: runtime,
		tracker: tracker,
	}
	if cloud != nil {
		c.cloud = cloud
	}
	if local != nil {
		c.local = local
	}
	return c
}

// Rerank re-orders an entire search result list in place of the retrieval
// order. It never truncates: the search layer already applied its own
// top_k, so reranking here only changes order and annotations.
func (c *Chain) Rerank(ctx context.Context, query string, results []search.Result) ([]search.Result, error) {
	return c.RerankWith(ctx, query, results, Options{TopK: len(results)})
}

// RerankWith applies the full contract: slice to max_candidates, score with
// the selected provider, degrade cloud to local to pass-through on failure,
// sort by rerank_score descending, slice top_k.
func (c *Chain) RerankWith(ctx context.Context, query string, results []search.Result, opts Options) ([]search.Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	providerID := c.resolveProvider(opts.Provider)
	if providerID == ProviderNone {
		return c.passThrough(results, c.topK(opts, len(results))), nil
	}

	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 || maxCandidates > c.config.MaxCandidates {
		maxCandidates = c.config.MaxCandidates
	}
	candidates := results
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	texts := make([]string, len(candidates))
	for i, r := range candidates {
		texts[i] = r.Text
	}

	scores, scoredBy := c.score(ctx, providerID, query, texts)
	if scoredBy == ProviderNone {
		return c.passThrough(results, c.topK(opts, len(results))), nil
	}

	out := make([]search.Result, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = scores[i]
		out[i].RerankProvider = scoredBy
		out[i].OriginalSimilarity = out[i].Similarity
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	if topK := c.topK(opts, len(out)); len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// resolveProvider picks the provider for one call. Budget fallback wins
// over everything, then the call override, the environment override, the
// configured default. A cloud selection without a cloud scorer wired (no
// credential) degrades to local.
func (c *Chain) resolveProvider(explicit string) string {
	if c.runtime != nil && c.runtime.Snapshot().ForceLocalRerank {
		return c.downgrade(ProviderLocal)
	}

	selected := c.config.Provider
	if c.config.ProviderOverride != "" {
		selected = c.config.ProviderOverride
	}
	if explicit != "" {
		switch explicit {
		case ProviderCloud, ProviderLocal, ProviderNone:
			selected = explicit
		default:
			c.logger.Debug().Str("provider", explicit).Msg("unknown rerank provider requested, keeping configured selection")
		}
	}

	if selected == ProviderCloud && c.cloud == nil {
		c.logger.Debug().Msg("cloud reranker has no credential, degrading to local")
		selected = ProviderLocal
	}
	return c.downgrade(selected)
}

// downgrade maps a selection to pass-through when its scorer is missing.
func (c *Chain) downgrade(selected string) string {
	if selected == ProviderLocal && c.local == nil {
		return ProviderNone
	}
	return selected
}

// score runs the selected provider and walks the fallback chain on
// failure. It returns the scores plus the provider that produced them;
// ProviderNone means every provider failed.
func (c *Chain) score(ctx context.Context, providerID, query string, texts []string) ([]float64, string) {
	if providerID == ProviderCloud {
		scores, err := c.cloud.Score(ctx, query, texts)
		if err == nil {
			c.trackCloudCall(ctx, len(texts))
			return scores, ProviderCloud
		}
		c.logger.Warn().Err(err).Int("candidates", len(texts)).Msg("cloud rerank failed, trying local")
		providerID = c.downgrade(ProviderLocal)
	}
	if providerID == ProviderLocal {
		scores, err := c.local.Score(ctx, query, texts)
		if err == nil {
			return scores, ProviderLocal
		}
		c.logger.Warn().Err(err).Int("candidates", len(texts)).Msg("local rerank failed, passing results through")
	}
	return nil, ProviderNone
}

// passThrough annotates results without reordering them. Hybrid lists are
// ordered by fused score and bm25-only entries carry similarity zero, so
// re-sorting by similarity here would sink them; keeping retrieval order
// is the only annotation-only behavior that works for both modes.
func (c *Chain) passThrough(results []search.Result, topK int) []search.Result {
	out := make([]search.Result, len(results))
	copy(out, results)
	for i := range out {
		out[i].RerankScore = out[i].Similarity
		out[i].RerankProvider = ProviderNone
		out[i].OriginalSimilarity = out[i].Similarity
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (c *Chain) topK(opts Options, available int) int {
	topK := opts.TopK
	if topK <= 0 {
		topK = c.config.DefaultTopK
	}
	if topK > available {
		topK = available
	}
	return topK
}

// trackCloudCall writes the per-request cost record for a successful
// cloud rerank.
func (c *Chain) trackCloudCall(ctx context.Context, candidates int) {
	if c.tracker == nil {
		return
	}
	c.tracker.Track(ctx, cost.Usage{
		Provider:  c.cloud.Name(),
		Operation: storage.CostOpRerank,
		Tokens:    1,
		Model:     c.cloud.Model(),
		Metadata:  storage.Metadata{"candidates": candidates},
	})
}
