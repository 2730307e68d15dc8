package distance

import (
	"math"
	"slices"
)

// Dot returns the dot product of a and b. b must be at least as long as a.
func Dot(a, b []float32) float32 {
	b = b[:len(a)]

	// Four accumulators keep the loop free of a single dependency chain.
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// NormalizeL2InPlace scales v to unit length. It reports false and leaves v
// untouched when v is empty or its norm is zero or not finite.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm := math.Sqrt(float64(Dot(v, v)))
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return false
	}
	inv := float32(1 / norm)
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy is NormalizeL2InPlace on a copy of src.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
