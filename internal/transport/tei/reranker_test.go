package tei

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	return New(&Config{BaseURL: baseURL, Timeout: 5 * time.Second, Logger: zap.NewNop()})
}

func TestScore_RestoresDocumentOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req rerankRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.RawScores {
			t.Error("expected raw_scores to be requested")
		}
		if len(req.Texts) != 3 {
			t.Errorf("expected 3 texts, got %d", len(req.Texts))
		}

		// Ranked order, not document order.
		json.NewEncoder(w).Encode([]rerankEntry{
			{Index: 2, Score: 5.1},
			{Index: 0, Score: 1.2},
			{Index: 1, Score: -0.7},
		})
	}))
	defer server.Close()

	scores, err := newTestClient(server.URL).Score(context.Background(), "gold ring",
		[]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	want := []float64{1.2, -0.7, 5.1}
	for i, s := range scores {
		if s != want[i] {
			t.Errorf("scores[%d] = %f, want %f", i, s, want[i])
		}
	}
}

func TestScore_EmptyDocs(t *testing.T) {
	scores, err := newTestClient("http://unused").Score(context.Background(), "q", nil)
	if err != nil || scores != nil {
		t.Errorf("expected nil, nil for empty docs, got %v, %v", scores, err)
	}
}

func TestScore_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]rerankEntry{{Index: 0, Score: 1}})
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Score(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for score count mismatch")
	}
}

func TestScore_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected error for 503")
	}
}
