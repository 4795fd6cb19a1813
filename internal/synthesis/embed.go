package synthesis

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/embedding"
	"github.com/relayforge/corpus-engine/internal/search"
)

const (
	// embedSnippetChars bounds how much of each result is embedded.
	embedSnippetChars = 600
	// pseudoDimension is the size of the degraded-mode vectors.
	pseudoDimension = 16
)

// embedResults turns each result's leading text into a vector for
// clustering. All results embed through one provider so the vectors share
// a dimension; when that fails entirely the whole set degrades to
// deterministic pseudo-embeddings, reported through the fallback flag.
func (e *Engine) embedResults(ctx context.Context, collectionID uuid.UUID, results []search.Result) ([][]float32, bool) {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = truncateChars(r.Text, embedSnippetChars)
	}

	batch, err := e.embedder.RouteBatch(ctx, texts, embedding.ContentContext{CollectionID: collectionID.String()}, "")
	if err != nil {
		e.logger.Warn().Err(err).Int("results", len(results)).Msg("result embedding failed, clustering on pseudo-embeddings")
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = pseudoEmbedding(text)
		}
		return vectors, true
	}

	for _, v := range batch.Vectors {
		l2Normalize(v)
	}
	return batch.Vectors, false
}

// pseudoEmbedding derives a fixed low-dimension vector from character
// codes. Identical text always produces the identical vector, so
// clustering stays deterministic even in degraded mode.
func pseudoEmbedding(text string) []float32 {
	vec := make([]float32, pseudoDimension)
	for i, r := range text {
		vec[i%pseudoDimension] += float32(r % 101)
	}
	l2Normalize(vec)
	return vec
}

// l2Normalize scales a vector to unit length in place. Zero vectors are
// left untouched.
func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// truncateChars returns the first n characters of s without splitting a
// multi-byte rune.
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
