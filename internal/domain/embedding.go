package domain

import (
	"context"
	"image"
)

// TextEmbedder vectorizes text into the shared cross-modal space.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) (EmbeddingResult, error)
}

// ImageEmbedder vectorizes an image into the shared cross-modal space.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, img image.Image) (EmbeddingResult, error)
}

// Embedder produces unit vectors for both modalities in the same space of
// dimension D. The concrete implementation (local base model, local
// adapter-merged model, remote provider) is chosen once at construction;
// callers never probe capabilities per call.
type Embedder interface {
	TextEmbedder
	ImageEmbedder
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the unit vector and, for metered providers, the
// token usage of the call.
type EmbeddingResult struct {
	Vector       []float32
	PromptTokens int
	TotalTokens  int
}
