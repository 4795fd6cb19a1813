package synthesis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/llm"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/search"
)

const (
	defaultMaxResults = 15
	defaultMinOverlap = 0.2
	defaultMaxOverlap = 0.7
	defaultMaxPairs   = 6

	// maxPairsCap bounds the number of model calls a single comparison
	// can make regardless of configuration.
	maxPairsCap = 6
)

// resultEmbedder is the slice of the embedding router the engine needs.
type resultEmbedder interface {
	RouteBatch(ctx context.Context, texts []string, cctx embedding.ContentContext, override string) (*embedding.BatchResult, error)
}

// completer is the slice of the language model client used for
// contradiction analysis.
type completer interface {
	Complete(ctx context.Context, prompt string) (*llm.Completion, error)
	Model() string
}

type usageTracker interface {
	Track(ctx context.Context, u cost.Usage)
}

// Config controls clustering size and contradiction detection.
type Config struct {
	// MaxResults caps how many search results feed one comparison.
	MaxResults int
	// MinOverlap and MaxOverlap bound the summary token overlap inside
	// which two approaches are worth sending to the model. Below the
	// floor they discuss different things, above the ceiling they agree.
	MinOverlap float64
	MaxOverlap float64
	// MaxPairs caps the approach pairs analysed per comparison.
	MaxPairs int
	// ContradictionDetection turns the model-backed conflict pass on.
	ContradictionDetection bool
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.MinOverlap <= 0 {
		c.MinOverlap = defaultMinOverlap
	}
	if c.MaxOverlap <= 0 {
		c.MaxOverlap = defaultMaxOverlap
	}
	if c.MaxPairs <= 0 || c.MaxPairs > maxPairsCap {
		c.MaxPairs = defaultMaxPairs
	}
	return c
}

// Engine clusters search results into approaches and compares them.
type Engine struct {
	logger    *observability.Logger
	config    Config
	embedder  resultEmbedder
	completer completer
	runtime   *cost.Runtime
	tracker   usageTracker
}

// NewEngine builds a synthesis engine. The language model client may be
// nil, which disables contradiction detection and nothing else.
func NewEngine(logger *observability.Logger, cfg Config, embedder *embedding.Router, client *llm.Client, runtime *cost.Runtime, tracker *cost.Tracker) *Engine {
	e := &Engine{
		logger:   logger.WithComponent("synthesis"),
		config:   cfg.withDefaults(),
		embedder: embedder,
		runtime:  runtime,
	}
	if client != nil {
		e.completer = client
	}
	if tracker != nil {
		e.tracker = tracker
	}
	return e
}

// group is one cluster with the results that landed in it. The conflict
// detector reads source metadata from here rather than from the public
// Approach, which only carries presentation fields.
type group struct {
	results  []search.Result
	approach Approach
}

// Compare clusters the given results into approaches, scores the
// consensus behind each, and flags contradicting pairs. Results are
// expected in retrieval order; order within a cluster follows it.
func (e *Engine) Compare(ctx context.Context, query string, collectionID uuid.UUID, results []search.Result) (*Comparison, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	if len(results) > e.config.MaxResults {
		results = results[:e.config.MaxResults]
	}

	cmp := &Comparison{
		Query:      query,
		Approaches: []Approach{},
		Conflicts:  []Conflict{},
	}
	if len(results) == 0 {
		cmp.Metadata.SynthesisTimeMs = time.Since(start).Milliseconds()
		return cmp, nil
	}

	vectors, usedFallback := e.embedResults(ctx, collectionID, results)

	k := clampK(len(results) / 3)
	assignments, centroids := cluster(vectors, k)

	groups := make([]group, 0, k)
	for c := 0; c < k; c++ {
		var (
			members       []search.Result
			memberVectors [][]float32
		)
		for i, a := range assignments {
			if a != c {
				continue
			}
			members = append(members, results[i])
			memberVectors = append(memberVectors, vectors[i])
		}
		if len(members) == 0 {
			continue
		}
		approach := buildApproach(members, query)
		approach.Consensus = consensusScore(members, memberVectors, centroids[c], start)
		groups = append(groups, group{results: members, approach: approach})
	}

	for _, g := range groups {
		cmp.Approaches = append(cmp.Approaches, g.approach)
	}
	cmp.Conflicts = append(cmp.Conflicts, e.detectConflicts(ctx, query, collectionID, groups)...)
	cmp.Recommended = recommend(cmp.Approaches, cmp.Conflicts)

	cmp.Metadata = Metadata{
		TotalSources:      len(results),
		ApproachesFound:   len(cmp.Approaches),
		ConflictsFound:    len(cmp.Conflicts),
		SynthesisTimeMs:   time.Since(start).Milliseconds(),
		EmbeddingFallback: usedFallback,
	}

	e.logger.Info().
		Str("collection_id", collectionID.String()).
		Int("sources", len(results)).
		Int("approaches", len(cmp.Approaches)).
		Int("conflicts", len(cmp.Conflicts)).
		Dur("duration", time.Since(start)).
		Msg("synthesis complete")

	return cmp, nil
}

// clampK keeps the cluster count between one and three. Small result
// sets collapse into a single approach instead of one cluster per result.
func clampK(k int) int {
	if k < 1 {
		return 1
	}
	if k > 3 {
		return 3
	}
	return k
}
