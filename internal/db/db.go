package db

import (
	"context"
	"time"
)

// Store is the database facade combining all sub-interfaces. Consumers take
// the narrow sub-interfaces they need.
type Store interface {
	Pinger
	KVStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations (embedding cache).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IndexManager probes catalog index existence.
type IndexManager interface {
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher provides KNN search over a catalog index.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}
