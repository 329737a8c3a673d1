// Package search orchestrates the full retrieval pipeline: signal
// collection per query shape, weighted fusion, two-stage retrieval, and
// result packaging.
package search

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

// Options bound the retrieval stages.
type Options struct {
	// FanOut is the first-stage candidate count; always >= TopK so the
	// cross-encoder sees a wider pool than the final result set.
	FanOut int
	TopK   int
}

// Result is the outcome of one search request.
type Result struct {
	// Label is the normalized label the results are filed under.
	Label string
	// Query is the working-language text the rerank stage used, empty for
	// pure image queries without a caption.
	Query string
	// Conflicted reports whether an AI caption was suppressed.
	Conflicted bool
	// EmbeddingOnly is the first-stage view, ranked by vector similarity.
	EmbeddingOnly []domain.RankedResult
	// Reranked is the final view after cross-encoder scoring.
	Reranked []domain.RankedResult
	// ArtifactDir is where the packager wrote the result images, empty when
	// packaging is disabled.
	ArtifactDir string
}

// Service runs search requests end to end.
type Service struct {
	router      Router
	transcriber Transcriber
	descriptor  Descriptor
	embedder    domain.Embedder
	fuser       Fuser
	retriever   Retriever
	reranker    Reranker
	packager    Packager
	opts        Options
	logger      *zap.Logger
}

// New creates a search service. transcriber, descriptor, and packager may
// be nil; the corresponding stages are skipped.
func New(
	router Router,
	transcriber Transcriber,
	descriptor Descriptor,
	embedder domain.Embedder,
	fuser Fuser,
	retriever Retriever,
	reranker Reranker,
	packager Packager,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		router:      router,
		transcriber: transcriber,
		descriptor:  descriptor,
		embedder:    embedder,
		fuser:       fuser,
		retriever:   retriever,
		reranker:    reranker,
		packager:    packager,
		opts:        opts,
		logger:      logger,
	}
}

// signalSet is the per-request collection of embeddable signals plus the
// texts that drive conflict detection and reranking.
type signalSet struct {
	signals  []domain.Signal
	userText string
	aiText   string
	label    string
}

// Search executes one query through the whole pipeline.
func (s *Service) Search(ctx context.Context, q domain.Query) (*Result, error) {
	shape := shapeOf(q)

	res, err := s.search(ctx, q)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(shape, "error").Inc()
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues(shape, "success").Inc()
	return res, nil
}

func (s *Service) search(ctx context.Context, q domain.Query) (*Result, error) {
	set, err := s.collectSignals(ctx, q)
	if err != nil {
		return nil, err
	}

	stop := stageTimer("fuse")
	signals, conflicted := s.fuser.Suppress(set.signals, set.userText, set.aiText)
	fused, err := s.fuser.Fuse(signals)
	stop()
	if err != nil {
		return nil, err
	}

	stop = stageTimer("retrieve")
	candidates, err := s.retriever.Retrieve(ctx, fused, s.opts.FanOut)
	stop()
	if err != nil {
		return nil, err
	}

	topK := s.opts.TopK
	if topK > len(candidates) {
		topK = len(candidates)
	}
	embeddingOnly := domain.FromCandidates(candidates[:topK])

	rerankQuery := s.rerankQuery(set)
	stop = stageTimer("rerank")
	reranked := s.reranker.Rerank(ctx, rerankQuery, candidates, s.opts.TopK)
	stop()

	result := &Result{
		Label:         set.label,
		Query:         rerankQuery,
		Conflicted:    conflicted,
		EmbeddingOnly: embeddingOnly,
		Reranked:      reranked,
	}

	if s.packager != nil {
		stop = stageTimer("package")
		dir, err := s.packager.Package(set.label, rerankQuery, embeddingOnly, reranked)
		stop()
		if err != nil {
			return nil, fmt.Errorf("package results: %w", err)
		}
		result.ArtifactDir = dir
	}

	s.logger.Info("Search complete",
		zap.String("label", set.label),
		zap.Bool("conflicted", conflicted),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(reranked)),
	)
	return result, nil
}

// collectSignals dispatches on the query shape and gathers weighted
// embedding signals.
func (s *Service) collectSignals(ctx context.Context, q domain.Query) (*signalSet, error) {
	switch q := q.(type) {
	case domain.TextQuery:
		return s.textSignals(ctx, q.Text, q.Label())

	case domain.AudioQuery:
		stop := stageTimer("transcribe")
		transcript, err := s.transcribe(ctx, q)
		stop()
		if err != nil {
			return nil, err
		}
		// The transcript becomes both the query text and the label.
		return s.textSignals(ctx, transcript, transcript)

	case domain.ImageQuery:
		set := &signalSet{label: q.Label()}
		if err := s.imageSignals(ctx, q.Image, set); err != nil {
			return nil, err
		}
		return set, nil

	case domain.ImageTextQuery:
		set := &signalSet{label: q.Label()}

		stop := stageTimer("route")
		set.userText = s.router.Route(ctx, q.Text)
		stop()

		if err := s.imageSignals(ctx, q.Image, set); err != nil {
			return nil, err
		}

		stop = stageTimer("embed")
		emb, err := s.embedder.EmbedText(ctx, set.userText)
		stop()
		if err != nil {
			return nil, fmt.Errorf("embed query text: %w", err)
		}
		set.signals = append(set.signals, s.fuser.Signal(domain.SourceText, emb.Vector))
		return set, nil

	default:
		return nil, fmt.Errorf("unsupported query shape %T", q)
	}
}

func (s *Service) textSignals(ctx context.Context, text, label string) (*signalSet, error) {
	stop := stageTimer("route")
	routed := s.router.Route(ctx, text)
	stop()

	stop = stageTimer("embed")
	emb, err := s.embedder.EmbedText(ctx, routed)
	stop()
	if err != nil {
		return nil, fmt.Errorf("embed query text: %w", err)
	}

	return &signalSet{
		signals:  []domain.Signal{s.fuser.Signal(domain.SourceText, emb.Vector)},
		userText: routed,
		label:    label,
	}, nil
}

// imageSignals appends the image signal and, when the descriptor produced
// a caption, the description signal.
func (s *Service) imageSignals(ctx context.Context, img image.Image, set *signalSet) error {
	if s.descriptor != nil {
		stop := stageTimer("describe")
		img, set.aiText = s.descriptor.Describe(ctx, img)
		stop()
	}

	stop := stageTimer("embed")
	emb, err := s.embedder.EmbedImage(ctx, img)
	stop()
	if err != nil {
		return fmt.Errorf("embed query image: %w", err)
	}
	set.signals = append(set.signals, s.fuser.Signal(domain.SourceImage, emb.Vector))

	if set.aiText != "" {
		set.aiText = s.router.Normalize(set.aiText)

		stop = stageTimer("embed")
		descEmb, err := s.embedder.EmbedText(ctx, set.aiText)
		stop()
		if err != nil {
			return fmt.Errorf("embed description: %w", err)
		}
		set.signals = append(set.signals, s.fuser.Signal(domain.SourceDescription, descEmb.Vector))
	}
	return nil
}

func (s *Service) transcribe(ctx context.Context, q domain.AudioQuery) (string, error) {
	if s.transcriber == nil {
		return "", fmt.Errorf("audio search unavailable: %w", domain.ErrEmptySignalSet)
	}
	transcript, err := s.transcriber.Transcribe(ctx, q.Audio, q.MIME)
	if err != nil {
		// Nothing to embed without a transcript; no silent degradation here.
		return "", fmt.Errorf("transcribe audio: %w: %w", domain.ErrEmptySignalSet, err)
	}
	return transcript, nil
}

// rerankQuery picks the text the cross-encoder compares documents against:
// explicit user text first, AI caption second, nothing for pure image
// queries without a caption.
func (s *Service) rerankQuery(set *signalSet) string {
	if set.userText != "" {
		return set.userText
	}
	return set.aiText
}

func shapeOf(q domain.Query) string {
	switch q.(type) {
	case domain.TextQuery:
		return "text"
	case domain.ImageQuery:
		return "image"
	case domain.ImageTextQuery:
		return "image_text"
	case domain.AudioQuery:
		return "audio"
	default:
		return "unknown"
	}
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.SearchStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
