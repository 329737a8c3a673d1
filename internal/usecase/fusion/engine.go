// Package fusion combines weighted multimodal signals into a single query
// vector, suppressing AI-derived signals that contradict explicit user
// intent.
package fusion

import (
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

// Weights are the per-provenance fusion weights. Ordering invariant:
// explicit user text dominates the image, which dominates the supportive
// AI description.
type Weights struct {
	Image       float64
	Description float64
	Text        float64
}

// DefaultWeights returns the standard weight table.
func DefaultWeights() Weights {
	return Weights{Image: 1.0, Description: 0.5, Text: 2.0}
}

// For returns the weight for a signal provenance.
func (w Weights) For(source domain.Provenance) float64 {
	switch source {
	case domain.SourceImage:
		return w.Image
	case domain.SourceDescription:
		return w.Description
	case domain.SourceText:
		return w.Text
	default:
		return 1.0
	}
}

// Engine fuses signals and resolves material conflicts against the closed
// vocabulary table.
type Engine struct {
	weights Weights
	vocab   domain.Vocabulary
	logger  *zap.Logger
}

// New creates a fusion engine.
func New(weights Weights, vocab domain.Vocabulary, logger *zap.Logger) *Engine {
	return &Engine{weights: weights, vocab: vocab, logger: logger}
}

// Signal builds a weighted signal from an embedding vector.
func (e *Engine) Signal(source domain.Provenance, vec []float32) domain.Signal {
	return domain.Signal{Vector: vec, Weight: e.weights.For(source), Source: source}
}

// Suppress removes AI-description signals when the user's text names a
// material that contradicts the caption's material on the same axis. The
// conflicting signal is omitted entirely, not down-weighted: user intent
// fully determines that axis. Returns the surviving signals and whether a
// conflict was detected.
func (e *Engine) Suppress(signals []domain.Signal, userText, aiText string) ([]domain.Signal, bool) {
	if userText == "" || aiText == "" {
		return signals, false
	}

	userMaterials := e.vocab.Materials(userText)
	aiMaterials := e.vocab.Materials(aiText)
	if !e.vocab.Conflicts(userMaterials, aiMaterials) {
		return signals, false
	}

	e.logger.Warn("Material conflict detected, suppressing AI description signal",
		zap.Strings("user_materials", userMaterials),
		zap.Strings("ai_materials", aiMaterials),
	)
	metrics.FusionConflictsTotal.Inc()

	kept := make([]domain.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Source == domain.SourceDescription {
			continue
		}
		kept = append(kept, s)
	}
	return kept, true
}

// Fuse computes normalize(sum of weight_i * v_i) over the signal set.
// Deterministic; fails with ErrEmptySignalSet when no signal survived.
func (e *Engine) Fuse(signals []domain.Signal) (domain.FusedQuery, error) {
	if len(signals) == 0 {
		return domain.FusedQuery{}, domain.ErrEmptySignalSet
	}

	dim := len(signals[0].Vector)
	sum := make([]float32, dim)
	for _, s := range signals {
		if len(s.Vector) != dim {
			return domain.FusedQuery{}, domain.ErrVectorDimMismatch
		}
		for i, x := range s.Vector {
			sum[i] += float32(s.Weight * float64(x))
		}
	}

	return domain.FusedQuery{Vector: domain.Normalize(sum)}, nil
}
