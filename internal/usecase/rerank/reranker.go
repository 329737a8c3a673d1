// Package rerank reorders first-stage candidates with a cross-encoder
// scoring service, falling back to the vector ordering when no textual
// query or encoder is available.
package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

// CrossEncoder scores (query, document) pairs jointly. Scores are raw
// model logits: unbounded, comparable only within one call.
type CrossEncoder interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Reranker runs the precision stage over recall-stage candidates.
type Reranker struct {
	encoder   CrossEncoder
	batchSize int
	logger    *zap.Logger
}

// New creates a reranker. encoder may be nil, which disables the precision
// stage entirely.
func New(encoder CrossEncoder, batchSize int, logger *zap.Logger) *Reranker {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Reranker{encoder: encoder, batchSize: batchSize, logger: logger}
}

// Rerank scores every candidate's semantic description against query and
// returns the topK best, ranked 1..topK. With an empty query or no encoder
// the vector-similarity order is kept and initial scores carry through.
// Scoring failures degrade the same way: results are always produced.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.Candidate, topK int) []domain.RankedResult {
	if len(candidates) == 0 {
		return nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	if query == "" || r.encoder == nil {
		return domain.FromCandidates(candidates[:topK])
	}

	scores, err := r.scoreBatched(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("Cross-encoder scoring failed, keeping vector order", zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues("rerank").Inc()
		return domain.FromCandidates(candidates[:topK])
	}

	ranked := make([]domain.RankedResult, len(candidates))
	for i, c := range candidates {
		ranked[i] = domain.RankedResult{Candidate: c, RerankScore: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})

	ranked = ranked[:topK]
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// scoreBatched feeds candidate descriptions to the encoder in fixed-size
// batches and stitches the scores back together in candidate order.
func (r *Reranker) scoreBatched(ctx context.Context, query string, candidates []domain.Candidate) ([]float64, error) {
	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		docs := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			docs = append(docs, c.SemanticDescription)
		}

		batch, err := r.encoder.Score(ctx, query, docs)
		if err != nil {
			return nil, err
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}
