// Package artifacts materializes search results on disk: per-query output
// directories with copied product images named by rank and score.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
	"github.com/lapidary-search/lapidary/internal/repository/results"
)

const (
	dirEmbeddingOnly = "embedding_only"
	dirReranked      = "reranked"
)

var labelSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SafeLabel normalizes a query label into a filesystem-safe directory name:
// lowercased, non-alphanumeric runs collapsed to single underscores. The
// result never escapes the output directory.
func SafeLabel(label string) string {
	s := labelSanitizer.ReplaceAllString(strings.ToLower(label), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "query"
	}
	return s
}

// Packager writes both result views for a query under the output root and
// records them in the results store.
type Packager struct {
	root    string
	workers int
	store   results.Store
	logger  *zap.Logger
}

// New creates a packager rooted at dir, copying with the given parallelism.
func New(dir string, workers int, store results.Store, logger *zap.Logger) *Packager {
	if workers <= 0 {
		workers = 4
	}
	return &Packager{root: dir, workers: workers, store: store, logger: logger}
}

// Package writes embedding-only and reranked artifact directories for the
// labelled query and persists both views. Individual copy failures are
// logged and skipped; the overall packaging still succeeds.
func (p *Packager) Package(label, query string, embeddingOnly, reranked []domain.RankedResult) (string, error) {
	safe := SafeLabel(label)
	queryDir := filepath.Join(p.root, safe)

	// Rerunning the same query replaces its artifacts wholesale.
	if err := os.RemoveAll(queryDir); err != nil {
		return "", fmt.Errorf("clear artifact dir: %w", err)
	}
	if err := p.copyView(filepath.Join(queryDir, dirEmbeddingOnly), "dist", embeddingOnly); err != nil {
		return "", err
	}
	if err := p.copyView(filepath.Join(queryDir, dirReranked), "score", reranked); err != nil {
		return "", err
	}

	entry := results.Entry{
		Query:         query,
		EmbeddingOnly: results.ItemsFromRanked(embeddingOnly),
		Reranked:      results.ItemsFromRanked(reranked),
	}
	if err := p.store.Put(safe, entry); err != nil {
		return "", fmt.Errorf("record results: %w", err)
	}

	p.logger.Info("Packaged search artifacts",
		zap.String("label", safe),
		zap.Int("embedding_only", len(embeddingOnly)),
		zap.Int("reranked", len(reranked)),
	)
	return queryDir, nil
}

// copyView fans item copies out over a worker pool. Missing or unreadable
// source images degrade to a warning per item.
func (p *Packager) copyView(dir, prefix string, items []domain.RankedResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return fmt.Errorf("create copy pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := p.copyItem(dir, prefix, item); err != nil {
				p.logger.Warn("Skipping artifact copy",
					zap.String("product_id", item.ProductID),
					zap.Error(err),
				)
				metrics.FallbacksTotal.WithLabelValues("copy").Inc()
			}
		})
		if submitErr != nil {
			wg.Done()
			return fmt.Errorf("submit copy task: %w", submitErr)
		}
	}
	wg.Wait()
	return nil
}

func (p *Packager) copyItem(dir, prefix string, item domain.RankedResult) error {
	name := ArtifactName(item.Rank, prefix, item.RerankScore, item.ProductID, filepath.Ext(item.Path))
	return copyFile(item.Path, filepath.Join(dir, name))
}

// ArtifactName builds the self-describing artifact file name: zero-padded
// rank, score kind, score to four decimals, product id, source extension.
func ArtifactName(rank int, prefix string, score float64, productID, ext string) string {
	return fmt.Sprintf("%02d_%s_%.4f_%s%s", rank, prefix, score, SafeLabel(productID), ext)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
