package synthesis

import "math"

const (
	maxIterations        = 10
	convergenceThreshold = 1e-4
)

// cluster groups vectors into k clusters. Initial centroids are the first
// k vectors, assignment uses cosine similarity rather than distance, and
// centroids are recomputed as the component-wise mean. The loop stops
// after ten rounds or when every centroid coordinate moves less than 1e-4.
func cluster(vectors [][]float32, k int) ([]int, [][]float32) {
	if len(vectors) == 0 || k < 1 {
		return nil, nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[i]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIterations; iter++ {
		for i, v := range vectors {
			best, bestSim := 0, math.Inf(-1)
			for c, centroid := range centroids {
				if sim := cosineSimilarity(v, centroid); sim > bestSim {
					best, bestSim = c, sim
				}
			}
			assignments[i] = best
		}

		next := make([][]float32, k)
		counts := make([]int, k)
		for i := range next {
			next[i] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim && d < len(v); d++ {
				next[c][d] += v[d]
			}
		}

		maxDelta := 0.0
		for c := range next {
			if counts[c] == 0 {
				// An empty cluster keeps its previous centroid.
				next[c] = centroids[c]
				continue
			}
			for d := range next[c] {
				next[c][d] /= float32(counts[c])
				if delta := math.Abs(float64(next[c][d] - centroids[c][d])); delta > maxDelta {
					maxDelta = delta
				}
			}
		}
		centroids = next
		if maxDelta < convergenceThreshold {
			break
		}
	}
	return assignments, centroids
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or zero when either has no magnitude.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
