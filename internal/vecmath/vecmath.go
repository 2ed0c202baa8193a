// Package vecmath provides the small set of vector operations the memory
// engine depends on. All math runs in float64 and converts at the edges so
// both store backends agree on similarity within floating tolerance.
package vecmath

import "math"

// CosineSimilarity returns the normalized dot product of two vectors.
// Returns 0.0 when either input is empty, mismatched in length, or has zero
// norm; it never divides by zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, magA, magB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero-norm or empty vector is
// returned as a plain copy; callers treat those as unsortable.
func Normalize(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)

	norm := Norm(v)
	if norm == 0 {
		return cp
	}
	inv := float32(1.0 / norm)
	for i := range cp {
		cp[i] *= inv
	}
	return cp
}

// Dot returns the dot product. For unit vectors this equals cosine
// similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
