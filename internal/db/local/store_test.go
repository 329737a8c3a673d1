package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lapidary-search/lapidary/internal/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestKV_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %s", got)
	}
}

func TestSearchKNN_MissingIndex(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "lapidary:jewelry:idx",
		Vector:    []float32{1, 0},
		K:         5,
	})
	if !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSearchKNN_OrdersBySimilarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	index := "lapidary:jewelry:idx"

	items := map[string][]float32{
		"far":     {0, 1},
		"near":    {1, 0},
		"between": {0.7071, 0.7071},
	}
	for id, vec := range items {
		err := s.Upsert(ctx, index, id, vec, map[string]string{"product_id": id})
		if err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	res, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: index, Vector: []float32{1, 0}, K: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("expected total 3, got %d", res.Total)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Fields["product_id"] != "near" {
		t.Errorf("expected 'near' first, got %q", res.Entries[0].Fields["product_id"])
	}
	if res.Entries[1].Fields["product_id"] != "between" {
		t.Errorf("expected 'between' second, got %q", res.Entries[1].Fields["product_id"])
	}
	if res.Entries[0].Score < res.Entries[1].Score {
		t.Error("entries must be sorted by descending similarity")
	}
	if res.Entries[0].Score < 0.999 || res.Entries[0].Score > 1.001 {
		t.Errorf("identical direction must score ~1, got %f", res.Entries[0].Score)
	}
}

func TestIndexExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.IndexExists(ctx, "lapidary:jewelry:idx")
	if err != nil || ok {
		t.Fatalf("expected absent index, got ok=%v err=%v", ok, err)
	}

	if err := s.Upsert(ctx, "lapidary:jewelry:idx", "a", []float32{1}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err = s.IndexExists(ctx, "lapidary:jewelry:idx")
	if err != nil || !ok {
		t.Fatalf("expected index present, got ok=%v err=%v", ok, err)
	}
}
