package catalog

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/db"
	"github.com/lapidary-search/lapidary/internal/domain"
)

type mockSearcher struct {
	result    *db.SearchResult
	err       error
	lastQuery *db.KNNQuery
	exists    bool
}

func (m *mockSearcher) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockSearcher) IndexExists(_ context.Context, _ string) (bool, error) {
	return m.exists, nil
}

func newTestRepo(m *mockSearcher) *Repository {
	return &Repository{db: m, collection: "jewelry", logger: zap.NewNop()}
}

func TestIndexName(t *testing.T) {
	if got := IndexName("jewelry"); got != "lapidary:jewelry:idx" {
		t.Errorf("unexpected index name %q", got)
	}
}

func TestRetrieve_MapsEntries(t *testing.T) {
	m := &mockSearcher{result: &db.SearchResult{
		Total: 2,
		Entries: []db.SearchEntry{
			{Key: "lapidary:jewelry:1", Score: 0.92, Fields: map[string]string{
				"product_id":           "ring-001",
				"path":                 "/catalog/ring-001.jpg",
				"semantic_description": "gold ring with ruby",
			}},
			{Key: "lapidary:jewelry:2", Score: 0.87, Fields: map[string]string{
				"product_id":           "ring-002",
				"path":                 "/catalog/ring-002.jpg",
				"semantic_description": "silver band",
			}},
		},
	}}
	repo := newTestRepo(m)

	got, err := repo.Retrieve(context.Background(), domain.FusedQuery{Vector: []float32{1, 0}}, 50)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ProductID != "ring-001" || got[0].InitialScore != 0.92 {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if got[1].SemanticDescription != "silver band" {
		t.Errorf("unexpected second candidate %+v", got[1])
	}

	if m.lastQuery.IndexName != "lapidary:jewelry:idx" {
		t.Errorf("queried index %q", m.lastQuery.IndexName)
	}
	if m.lastQuery.K != 50 {
		t.Errorf("queried K = %d, want 50", m.lastQuery.K)
	}
}

func TestRetrieve_SkipsEntriesWithoutProductID(t *testing.T) {
	m := &mockSearcher{result: &db.SearchResult{
		Total: 2,
		Entries: []db.SearchEntry{
			{Key: "a", Score: 0.9, Fields: map[string]string{"path": "/x.jpg"}},
			{Key: "b", Score: 0.8, Fields: map[string]string{"product_id": "p1"}},
		},
	}}
	repo := newTestRepo(m)

	got, err := repo.Retrieve(context.Background(), domain.FusedQuery{Vector: []float32{1}}, 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "p1" {
		t.Errorf("expected only the complete entry, got %+v", got)
	}
}

func TestRetrieve_MissingIndex(t *testing.T) {
	m := &mockSearcher{err: db.ErrIndexNotFound}
	repo := newTestRepo(m)

	_, err := repo.Retrieve(context.Background(), domain.FusedQuery{Vector: []float32{1}}, 10)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}

	var iu *domain.IndexUnavailableError
	if !errors.As(err, &iu) || iu.Collection != "jewelry" {
		t.Errorf("expected collection name in error, got %v", err)
	}
}

func TestRetrieve_OtherErrorsPropagate(t *testing.T) {
	m := &mockSearcher{err: errors.New("connection refused")}
	repo := newTestRepo(m)

	_, err := repo.Retrieve(context.Background(), domain.FusedQuery{Vector: []float32{1}}, 10)
	if err == nil || errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected opaque error, got %v", err)
	}
}
