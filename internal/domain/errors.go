package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySignalSet signals that no usable text/image/audio signal could
	// be embedded for a search request.
	ErrEmptySignalSet = errors.New("empty signal set: no usable query signal")
	// ErrIndexUnavailable signals that the catalog collection has not been
	// indexed yet. Recoverable: the caller should run the indexer first.
	ErrIndexUnavailable = errors.New("catalog index unavailable")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrVectorDimMismatch signals a vector dimension mismatch between a
	// signal and the index.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)

// IndexUnavailableError wraps ErrIndexUnavailable with the collection name.
type IndexUnavailableError struct {
	Collection string
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("%s: collection %q does not exist, run the indexer before searching",
		ErrIndexUnavailable.Error(), e.Collection)
}

func (e *IndexUnavailableError) Unwrap() error { return ErrIndexUnavailable }

// NewIndexUnavailable creates an index-unavailable error for a collection.
func NewIndexUnavailable(collection string) error {
	return &IndexUnavailableError{Collection: collection}
}
