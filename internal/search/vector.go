package search

import "math"

// Cosine returns the cosine similarity of two vectors: dot(a,b)/(|a|·|b|).
// If either vector has zero magnitude the similarity is 0 — never NaN and
// never a division by zero. Callers must pass vectors of equal length;
// dimension checks happen at the scoring boundary where mismatched chunks
// are excluded rather than scored.
func Cosine(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
