package synthesis

import (
	"strings"
	"time"

	"github.com/relayforge/corpus-engine/internal/search"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	summaryMaxChars = 360
	snippetMaxChars = 420
	minLabelChars   = 4

	daysPerMonth = 30.44
)

// buildApproach assembles the presentation of one cluster: a topic and
// method label mined from metadata, a two-snippet summary, and one source
// entry per result.
func buildApproach(results []search.Result, query string) Approach {
	topic := labelFrom(results, query, "topic")
	method := labelFrom(results, topic, "approach", "method")

	var snippets []string
	for _, r := range results {
		if s := collapseWhitespace(r.Text); s != "" {
			snippets = append(snippets, s)
		}
		if len(snippets) == 2 {
			break
		}
	}
	summary := truncateChars(strings.Join(snippets, " "), summaryMaxChars)
	if summary == "" && len(results) > 0 {
		summary = truncateChars(collapseWhitespace(results[0].Text), summaryMaxChars)
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			DocumentID: r.DocumentID,
			Title:      r.DocTitle,
			URL:        r.SourceURL,
			Snippet:    truncateChars(collapseWhitespace(r.Text), snippetMaxChars),
			Similarity: r.Similarity,
		}
	}

	return Approach{
		Topic:   topic,
		Method:  method,
		Summary: summary,
		Sources: sources,
	}
}

// labelFrom scans the cluster for the first metadata value under any of
// the given keys that is long enough to be a real label, then falls back
// to the first result's title and finally to the provided default.
func labelFrom(results []search.Result, fallback string, keys ...string) string {
	for _, r := range results {
		for _, key := range keys {
			if v := r.Metadata.GetString(key); len(v) >= minLabelChars {
				return v
			}
		}
	}
	if len(results) > 0 && results[0].DocTitle != "" {
		return results[0].DocTitle
	}
	return fallback
}

// consensusScore blends source quality, cluster cohesion, and content
// freshness into one 0..1 confidence for an approach.
func consensusScore(results []search.Result, vectors [][]float32, centroid []float32, now time.Time) float64 {
	if len(results) == 0 {
		return 0
	}

	var quality, freshness float64
	for _, r := range results {
		quality += search.TrustWeight(r.Metadata)
		freshness += freshnessWeight(r.Metadata, now)
	}
	quality /= float64(len(results))
	freshness /= float64(len(results))

	similarity := 0.7
	if vectorNorm(centroid) > 0 {
		var sum float64
		for _, v := range vectors {
			sum += clamp01(cosineSimilarity(v, centroid))
		}
		similarity = sum / float64(len(vectors))
	}

	return clamp01(0.4*quality + 0.4*similarity + 0.2*freshness)
}

// freshnessWeight ladders the age of last_verified. It is deliberately
// finer-grained than the search recency weight: synthesis compares
// approaches against each other, so two-year-old content should score
// below one-year-old content instead of sharing a bucket.
func freshnessWeight(meta storage.Metadata, now time.Time) float64 {
	verified, ok := meta.LastVerified()
	if !ok {
		return 0.7
	}
	months := now.Sub(verified).Hours() / (24 * daysPerMonth)
	switch {
	case months <= 6:
		return 1.0
	case months <= 12:
		return 0.85
	case months <= 24:
		return 0.7
	default:
		return 0.5
	}
}

func vectorNorm(v []float32) float64 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	return norm
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// collapseWhitespace trims a string and folds internal whitespace runs
// into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// recommend picks the approach with the best consensus after conflict
// penalties. Ties keep the earlier approach, which belongs to the
// lower-numbered cluster. Returns nil when there are no approaches.
func recommend(approaches []Approach, conflicts []Conflict) *Approach {
	if len(approaches) == 0 {
		return nil
	}
	best := 0
	bestScore := approaches[0].Consensus - penaltyFor(approaches[0], conflicts)
	for i := 1; i < len(approaches); i++ {
		score := approaches[i].Consensus - penaltyFor(approaches[i], conflicts)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	rec := approaches[best]
	return &rec
}

// penaltyFor returns the penalty of the most severe conflict that names
// one of the approach's sources. Penalties do not stack: an approach in
// three medium conflicts is not worse off than one in a single high.
func penaltyFor(a Approach, conflicts []Conflict) float64 {
	var penalty float64
	for _, c := range conflicts {
		if !conflictNames(c, a) {
			continue
		}
		if p := severityPenalty(c.Severity); p > penalty {
			penalty = p
		}
	}
	return penalty
}

func conflictNames(c Conflict, a Approach) bool {
	for _, s := range a.Sources {
		if sourceMatches(c.SourceA, s) || sourceMatches(c.SourceB, s) {
			return true
		}
	}
	return false
}

func sourceMatches(cs ConflictSource, s Source) bool {
	if cs.Title != "" && cs.Title == s.Title {
		return true
	}
	return cs.URL != "" && cs.URL == s.URL
}

func severityPenalty(severity string) float64 {
	switch severity {
	case SeverityHigh:
		return 0.3
	case SeverityLow:
		return 0.05
	default:
		return 0.15
	}
}
