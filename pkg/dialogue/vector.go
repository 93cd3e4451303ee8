package dialogue

import "math"

// CosineDistance returns 1 - cos(a, b), matching pgvector's <=> operator.
// Vectors of different length, or a zero vector on either side, yield the
// maximum distance of 2 so that they never pass a threshold.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
