// Package tei scores (query, document) pairs against a text-embeddings-
// inference rerank endpoint serving a cross-encoder model.
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client implements cross-encoder scoring over the TEI /rerank API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Config holds the rerank endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a TEI rerank client.
func New(cfg *Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one raw relevance logit per document, in document order.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: docs, RawScores: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank api error %d: %s", resp.StatusCode, string(data))
	}

	var entries []rerankEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(entries) != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(entries), len(docs))
	}

	// The API ranks by score; restore document order by index.
	scores := make([]float64, len(docs))
	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(docs) {
			return nil, fmt.Errorf("rerank index %d out of range", e.Index)
		}
		scores[e.Index] = e.Score
	}
	return scores, nil
}
