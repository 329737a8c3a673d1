// Package catalog retrieves product candidates from the vector index.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/db"
	"github.com/lapidary-search/lapidary/internal/domain"
)

// Document field names stored alongside each catalog vector.
const (
	fieldProductID   = "product_id"
	fieldPath        = "path"
	fieldDescription = "semantic_description"
)

type searcher interface {
	db.Searcher
	db.IndexManager
}

// Repository performs first-stage ANN retrieval over a catalog collection.
type Repository struct {
	db         searcher
	collection string
	logger     *zap.Logger
}

// New creates a catalog repository bound to one collection.
func New(store db.Store, collection string, logger *zap.Logger) *Repository {
	return &Repository{db: store, collection: collection, logger: logger}
}

// IndexName returns the search index name for a collection.
func IndexName(collection string) string {
	return fmt.Sprintf("%s%s:idx", domain.KeyPrefix, collection)
}

// Retrieve fetches up to fanOut candidates nearest to the fused query
// vector, ordered by descending cosine similarity. A missing collection
// index is reported as a recoverable domain error.
func (r *Repository) Retrieve(ctx context.Context, query domain.FusedQuery, fanOut int) ([]domain.Candidate, error) {
	res, err := r.db.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    IndexName(r.collection),
		Vector:       query.Vector,
		K:            fanOut,
		ReturnFields: []string{fieldProductID, fieldPath, fieldDescription},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, domain.NewIndexUnavailable(r.collection)
		}
		return nil, fmt.Errorf("catalog search: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := e.Fields[fieldProductID]
		if id == "" {
			// Index entries without a product id are unusable; skip, do not fail.
			r.logger.Warn("Skipping catalog entry without product_id", zap.String("key", e.Key))
			continue
		}
		candidates = append(candidates, domain.Candidate{
			ProductID:           id,
			Path:                e.Fields[fieldPath],
			SemanticDescription: e.Fields[fieldDescription],
			InitialScore:        e.Score,
		})
	}

	r.logger.Debug("Catalog retrieval complete",
		zap.String("collection", r.collection),
		zap.Int("requested", fanOut),
		zap.Int("returned", len(candidates)),
	)
	return candidates, nil
}

// Exists reports whether the collection's index has been built.
func (r *Repository) Exists(ctx context.Context) (bool, error) {
	return r.db.IndexExists(ctx, IndexName(r.collection))
}
