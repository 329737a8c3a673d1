// Package results persists per-query search outcomes into a cumulative
// JSON document, keyed by the query label.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lapidary-search/lapidary/internal/domain"
)

// Item is one result row in a stored entry.
type Item struct {
	Rank      int     `json:"rank"`
	Score     float64 `json:"score"`
	ProductID string  `json:"product_id"`
	Path      string  `json:"path"`
}

// Entry holds both views of one query's results.
type Entry struct {
	Query         string `json:"query,omitempty"`
	EmbeddingOnly []Item `json:"embedding_only"`
	Reranked      []Item `json:"reranked"`
}

// Store records and retrieves search outcomes by label.
type Store interface {
	Put(label string, entry Entry) error
	Get(label string) (Entry, error)
}

// FileStore keeps all entries in a single JSON file, merged read-modify-write
// under a process-local lock. Repeated queries with the same label overwrite
// their previous entry.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store writing to dir/search_results.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "search_results.json")}
}

// Put merges entry into the results file under label.
func (s *FileStore) Put(label string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	all[label] = entry

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// Get returns the entry stored under label.
func (s *FileStore) Get(label string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := all[label]
	if !ok {
		return Entry{}, fmt.Errorf("results for %q: %w", label, domain.ErrNotFound)
	}
	return entry, nil
}

// load reads the cumulative file; a missing file is an empty map.
func (s *FileStore) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	all := map[string]Entry{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return all, nil
}

// ItemsFromRanked converts ranked results into storable rows.
func ItemsFromRanked(ranked []domain.RankedResult) []Item {
	items := make([]Item, 0, len(ranked))
	for _, r := range ranked {
		items = append(items, Item{
			Rank:      r.Rank,
			Score:     r.RerankScore,
			ProductID: r.ProductID,
			Path:      r.Path,
		})
	}
	return items
}
