package search

import (
	"sort"
	"time"

	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// daysPerMonth converts an age to months for the recency ladder.
const daysPerMonth = 30.44

// Rescorer applies trust and recency weighting to a ranked result
// list. Both weights are multiplicative and attached to each result;
// the pre-rescore similarity is kept in BaseSimilarity.
type Rescorer struct {
	logger *observability.Logger
	now    func() time.Time
}

func NewRescorer(logger *observability.Logger) *Rescorer {
	return &Rescorer{
		logger: logger.WithComponent("search"),
		now:    time.Now,
	}
}

// Apply rescores results in place and re-sorts them. Vector lists sort
// by weighted similarity; hybrid lists (any fused score present) sort
// by weighted fused score so fusion ordering stays meaningful for
// chunks that only matched one source.
func (r *Rescorer) Apply(results []Result) {
	if len(results) == 0 {
		return
	}

	hybrid := false
	for i := range results {
		if results[i].FusedScore > 0 {
			hybrid = true
			break
		}
	}

	now := r.now()
	for i := range results {
		res := &results[i]
		trust := TrustWeight(res.Metadata)
		recency := recencyWeight(res.Metadata, now)

		res.TrustWeight = trust
		res.RecencyWeight = recency
		res.BaseSimilarity = res.Similarity
		res.Similarity *= trust * recency
		if res.FusedScore > 0 {
			res.FusedScore *= trust * recency
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if hybrid {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].Similarity > results[j].Similarity
	})
}

// TrustWeight maps the source_quality metadata value to a multiplier.
// Unknown or missing quality is discounted below community content. The
// synthesis consensus score uses the same mapping, which is why this is
// exported.
func TrustWeight(meta storage.Metadata) float64 {
	switch meta.SourceQuality() {
	case storage.SourceQualityOfficial:
		return 1.0
	case storage.SourceQualityVerified:
		return 0.85
	case storage.SourceQualityCommunity:
		return 0.6
	default:
		return 0.5
	}
}

// recencyWeight maps the age of last_verified to a multiplier. Content
// without a verification date gets the same weight as stale content.
func recencyWeight(meta storage.Metadata, now time.Time) float64 {
	verified, ok := meta.LastVerified()
	if !ok {
		return 0.7
	}
	months := now.Sub(verified).Hours() / (24 * daysPerMonth)
	switch {
	case months < 6:
		return 1.0
	case months < 12:
		return 0.9
	default:
		return 0.7
	}
}
