package domain

import "math"

// Provenance tags the origin of a query signal.
type Provenance string

const (
	// SourceImage marks a signal embedded from the (cropped) query image.
	SourceImage Provenance = "image"
	// SourceText marks a signal embedded from explicit user text.
	SourceText Provenance = "text"
	// SourceDescription marks a signal embedded from an AI-generated caption.
	SourceDescription Provenance = "ai-description"
)

// Signal is one weighted embedding contribution to a fused query.
// The vector is unit-normalized and the weight is strictly positive.
// Signals live for a single search request only.
type Signal struct {
	Vector []float32
	Weight float64
	Source Provenance
}

// FusedQuery is a single unit vector representing a multimodal query.
type FusedQuery struct {
	Vector []float32
}

// Norm returns the Euclidean norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}
