package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/usecase/fusion"
)

// --- mocks ---

type mockRouter struct{}

func (mockRouter) Route(_ context.Context, text string) string {
	return strings.ToLower(text)
}

func (mockRouter) Normalize(text string) string { return strings.ToLower(text) }

type mockTranscriber struct {
	transcript string
	err        error
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return m.transcript, m.err
}

type mockDescriptor struct {
	caption string
}

func (m *mockDescriptor) Describe(_ context.Context, img image.Image) (image.Image, string) {
	return img, m.caption
}

// mockEmbedder maps known texts to fixed unit vectors so fusion outcomes
// are predictable.
type mockEmbedder struct {
	textVecs map[string][]float32
	imageVec []float32
	err      error
}

func (m *mockEmbedder) EmbedText(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if v, ok := m.textVecs[text]; ok {
		return domain.EmbeddingResult{Vector: v}, nil
	}
	return domain.EmbeddingResult{Vector: []float32{1, 0, 0, 0}}, nil
}

func (m *mockEmbedder) EmbedImage(_ context.Context, _ image.Image) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Vector: m.imageVec}, nil
}

type mockRetriever struct {
	candidates []domain.Candidate
	err        error
	lastQuery  domain.FusedQuery
	lastFanOut int
}

func (m *mockRetriever) Retrieve(_ context.Context, q domain.FusedQuery, fanOut int) ([]domain.Candidate, error) {
	m.lastQuery = q
	m.lastFanOut = fanOut
	if m.err != nil {
		return nil, m.err
	}
	return m.candidates, nil
}

type mockReranker struct {
	lastQuery string
}

func (m *mockReranker) Rerank(_ context.Context, query string, candidates []domain.Candidate, topK int) []domain.RankedResult {
	m.lastQuery = query
	if topK > len(candidates) {
		topK = len(candidates)
	}
	return domain.FromCandidates(candidates[:topK])
}

type mockPackager struct {
	lastLabel string
	called    bool
}

func (m *mockPackager) Package(label, _ string, _, _ []domain.RankedResult) (string, error) {
	m.called = true
	m.lastLabel = label
	return "/out/" + label, nil
}

// --- fixtures ---

func testCandidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		out[i] = domain.Candidate{
			ProductID:           fmt.Sprintf("p%d", i),
			Path:                fmt.Sprintf("/catalog/p%d.jpg", i),
			SemanticDescription: fmt.Sprintf("item %d", i),
			InitialScore:        1 - float64(i)*0.05,
		}
	}
	return out
}

type fixture struct {
	svc       *Service
	embedder  *mockEmbedder
	retriever *mockRetriever
	reranker  *mockReranker
	packager  *mockPackager
}

func newFixture(transcriber Transcriber, descriptor Descriptor, candidates []domain.Candidate) *fixture {
	embedder := &mockEmbedder{
		textVecs: map[string][]float32{},
		imageVec: []float32{0, 1, 0, 0},
	}
	retriever := &mockRetriever{candidates: candidates}
	reranker := &mockReranker{}
	packager := &mockPackager{}

	fuser := fusion.New(fusion.DefaultWeights(), domain.DefaultVocabulary(), zap.NewNop())

	svc := New(mockRouter{}, transcriber, descriptor, embedder, fuser,
		retriever, reranker, packager,
		Options{FanOut: 10, TopK: 5}, zap.NewNop())

	return &fixture{svc: svc, embedder: embedder, retriever: retriever, reranker: reranker, packager: packager}
}

// --- tests ---

func TestSearch_TextQuery(t *testing.T) {
	f := newFixture(nil, nil, testCandidates(8))

	res, err := f.svc.Search(context.Background(), domain.TextQuery{Text: "Gold Necklace"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(res.EmbeddingOnly) != 5 || len(res.Reranked) != 5 {
		t.Errorf("expected topK=5 in both views, got %d/%d",
			len(res.EmbeddingOnly), len(res.Reranked))
	}
	if f.retriever.lastFanOut != 10 {
		t.Errorf("retrieved with fanOut %d, want 10", f.retriever.lastFanOut)
	}
	if f.reranker.lastQuery != "gold necklace" {
		t.Errorf("rerank query %q, want routed text", f.reranker.lastQuery)
	}
	if res.Label != "Gold Necklace" {
		t.Errorf("label %q, want the raw query", res.Label)
	}
	if !f.packager.called {
		t.Error("packager must run")
	}
}

func TestSearch_TextQuery_FewerCandidatesThanTopK(t *testing.T) {
	f := newFixture(nil, nil, testCandidates(3))

	res, err := f.svc.Search(context.Background(), domain.TextQuery{Text: "rare piece"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.EmbeddingOnly) != 3 || len(res.Reranked) != 3 {
		t.Errorf("expected all 3 candidates, got %d/%d",
			len(res.EmbeddingOnly), len(res.Reranked))
	}
}

func TestSearch_ImageQuery_NoCaption(t *testing.T) {
	f := newFixture(nil, &mockDescriptor{caption: ""}, testCandidates(8))

	res, err := f.svc.Search(context.Background(), domain.ImageQuery{
		Image: image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Name:  "upload.jpg",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if f.reranker.lastQuery != "" {
		t.Errorf("pure image query must rerank without text, got %q", f.reranker.lastQuery)
	}
	if res.Label != "upload.jpg" {
		t.Errorf("label %q, want file name", res.Label)
	}
}

func TestSearch_ImageQuery_CaptionDrivesRerank(t *testing.T) {
	f := newFixture(nil, &mockDescriptor{caption: "Gold Ring With Ruby"}, testCandidates(8))

	_, err := f.svc.Search(context.Background(), domain.ImageQuery{
		Image: image.NewRGBA(image.Rect(0, 0, 2, 2)),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if f.reranker.lastQuery != "gold ring with ruby" {
		t.Errorf("rerank query %q, want normalized caption", f.reranker.lastQuery)
	}
}

func TestSearch_ImageTextQuery_ConflictSuppression(t *testing.T) {
	// User says silver, the caption says gold: the description signal is
	// suppressed and the fused vector must match an image+text-only fusion.
	descriptor := &mockDescriptor{caption: "a gold ring"}
	f := newFixture(nil, descriptor, testCandidates(8))
	f.embedder.textVecs["silver ring"] = []float32{0, 0, 1, 0}
	f.embedder.textVecs["a gold ring"] = []float32{0, 0, 0, 1}

	res, err := f.svc.Search(context.Background(), domain.ImageTextQuery{
		Image: image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Text:  "silver ring",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Conflicted {
		t.Fatal("expected a detected conflict")
	}

	// Compare against the same pipeline without a caption at all.
	clean := newFixture(nil, &mockDescriptor{caption: ""}, testCandidates(8))
	clean.embedder.textVecs["silver ring"] = []float32{0, 0, 1, 0}
	if _, err := clean.svc.Search(context.Background(), domain.ImageTextQuery{
		Image: image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Text:  "silver ring",
	}); err != nil {
		t.Fatalf("clean search: %v", err)
	}

	got := f.retriever.lastQuery.Vector
	want := clean.retriever.lastQuery.Vector
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("suppressed caption still influenced fusion at dim %d: %f != %f",
				i, got[i], want[i])
		}
	}
}

func TestSearch_ImageTextQuery_NoConflictKeepsCaption(t *testing.T) {
	descriptor := &mockDescriptor{caption: "a gold ring"}
	f := newFixture(nil, descriptor, testCandidates(8))
	f.embedder.textVecs["gold ring"] = []float32{0, 0, 1, 0}
	f.embedder.textVecs["a gold ring"] = []float32{0, 0, 0, 1}

	res, err := f.svc.Search(context.Background(), domain.ImageTextQuery{
		Image: image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Text:  "gold ring",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Conflicted {
		t.Fatal("matching materials must not conflict")
	}
	if f.retriever.lastQuery.Vector[3] == 0 {
		t.Error("caption signal missing from the fused vector")
	}
}

func TestSearch_AudioQuery(t *testing.T) {
	f := newFixture(&mockTranscriber{transcript: "diamond earrings"}, nil, testCandidates(8))

	res, err := f.svc.Search(context.Background(), domain.AudioQuery{
		Audio: []byte("RIFF"), MIME: "audio/wav",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Label != "diamond earrings" {
		t.Errorf("label %q, want the transcript", res.Label)
	}
	if f.reranker.lastQuery != "diamond earrings" {
		t.Errorf("rerank query %q, want transcript", f.reranker.lastQuery)
	}
}

func TestSearch_AudioQuery_TranscriptionFailure(t *testing.T) {
	f := newFixture(&mockTranscriber{err: errors.New("stt down")}, nil, testCandidates(8))

	_, err := f.svc.Search(context.Background(), domain.AudioQuery{
		Audio: []byte("RIFF"), MIME: "audio/wav",
	})
	if !errors.Is(err, domain.ErrEmptySignalSet) {
		t.Fatalf("expected ErrEmptySignalSet, got %v", err)
	}
}

func TestSearch_MissingIndexPropagates(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.retriever.err = domain.NewIndexUnavailable("jewelry")

	_, err := f.svc.Search(context.Background(), domain.TextQuery{Text: "gold ring"})
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestSearch_EmbedderFailure(t *testing.T) {
	f := newFixture(nil, nil, testCandidates(5))
	f.embedder.err = errors.New("provider down")

	if _, err := f.svc.Search(context.Background(), domain.TextQuery{Text: "gold ring"}); err == nil {
		t.Fatal("expected error when the embedder fails")
	}
}
