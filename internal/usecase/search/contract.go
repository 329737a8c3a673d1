package search

import (
	"context"
	"image"

	"github.com/lapidary-search/lapidary/internal/domain"
)

// Router normalizes query text into the working language.
type Router interface {
	Route(ctx context.Context, text string) string
	Normalize(text string) string
}

// Transcriber converts spoken audio into working-language text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Descriptor locates and captions the dominant item in a query image.
// Best-effort: failures return the original image and an empty caption.
type Descriptor interface {
	Describe(ctx context.Context, img image.Image) (image.Image, string)
}

// Fuser combines weighted signals into one query vector, suppressing
// conflicting AI-derived signals first.
type Fuser interface {
	Signal(source domain.Provenance, vec []float32) domain.Signal
	Suppress(signals []domain.Signal, userText, aiText string) ([]domain.Signal, bool)
	Fuse(signals []domain.Signal) (domain.FusedQuery, error)
}

// Retriever fetches first-stage candidates by vector similarity.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.FusedQuery, fanOut int) ([]domain.Candidate, error)
}

// Reranker reorders candidates with a cross-encoder; degrades to the
// vector order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.Candidate, topK int) []domain.RankedResult
}

// Packager materializes both result views on disk and in the results store.
type Packager interface {
	Package(label, query string, embeddingOnly, reranked []domain.RankedResult) (string, error)
}
