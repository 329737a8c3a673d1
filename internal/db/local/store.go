// Package local implements db.Store on an embedded bbolt file: an exact
// cosine scan instead of an ANN index. It serves single-node deployments
// where running Redis is not worth it, and tests.
package local

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lapidary-search/lapidary/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

const kvBucket = "kv"

// Store is a bbolt-backed vector store. Each index keeps two buckets:
// "<index>:vec" (id -> little-endian float32 vector) and "<index>:doc"
// (id -> JSON field map).
type Store struct {
	bdb *bolt.DB
}

// Open opens (or creates) the store file.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kvBucket))
		return err
	}); err != nil {
		return nil, fmt.Errorf("init kv bucket: %w", err)
	}
	return &Store{bdb: bdb}, nil
}

// Ping reports readiness; an opened bolt file is always ready.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close closes the underlying file.
func (s *Store) Close() { _ = s.bdb.Close() }

// WaitForReady is immediate for an embedded store.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(kvBucket)).Get([]byte(key))
		if v == nil {
			return db.ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kvBucket)).Put([]byte(key), value)
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a value; the embedded store does not expire keys.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

// IndexExists reports whether the vector bucket for an index is present.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	var exists bool
	err := s.bdb.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(vecBucket(name)) != nil
		return nil
	})
	return exists, err
}

// Upsert writes one vector and its payload fields under an index, creating
// the index buckets on first use. Used by the indexer and by tests.
func (s *Store) Upsert(_ context.Context, index, id string, vector []float32, fields map[string]string) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	return s.bdb.Update(func(tx *bolt.Tx) error {
		vb, err := tx.CreateBucketIfNotExists(vecBucket(index))
		if err != nil {
			return err
		}
		fb, err := tx.CreateBucketIfNotExists(docBucket(index))
		if err != nil {
			return err
		}
		if err := vb.Put([]byte(id), vectorToBytes(vector)); err != nil {
			return err
		}
		return fb.Put([]byte(id), doc)
	})
}

// SearchKNN scans every vector in the index and returns the top-K entries
// by cosine similarity, descending.
func (s *Store) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	var entries []db.SearchEntry

	err := s.bdb.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(vecBucket(q.IndexName))
		if vb == nil {
			return db.ErrIndexNotFound
		}
		fb := tx.Bucket(docBucket(q.IndexName))

		return vb.ForEach(func(k, v []byte) error {
			vec := bytesToVector(v)
			if len(vec) != len(q.Vector) {
				return nil // dimension mismatch, skip
			}

			entry := db.SearchEntry{
				Key:    q.IndexName + ":" + string(k),
				Score:  cosine(q.Vector, vec),
				Fields: map[string]string{},
			}
			if fb != nil {
				if doc := fb.Get(k); doc != nil {
					_ = json.Unmarshal(doc, &entry.Fields)
				}
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	total := len(entries)
	if len(entries) > q.K {
		entries = entries[:q.K]
	}

	return &db.SearchResult{Total: total, Entries: entries}, nil
}

func vecBucket(index string) []byte { return []byte(index + ":vec") }
func docBucket(index string) []byte { return []byte(index + ":doc") }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func vectorToBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func bytesToVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
