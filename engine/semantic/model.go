// Package semantic stores chunk embeddings and answers nearest-neighbour
// queries. Every backend reports cosine distance (0 = identical) and returns
// hits closest first.
package semantic

import (
	"context"
	"errors"
	"fmt"
)

// VectorRecord is one index entry: a chunk's text, its vector and metadata.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]any // source, chunk_index
}

// SearchResult is a single nearest-neighbour hit.
type SearchResult struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata"`
	Distance float32        `json:"distance"`
}

// Store is implemented by every vector store backend.
type Store interface {
	// EnsureCollection prepares storage for vectors of length dims. It is
	// idempotent.
	EnsureCollection(ctx context.Context, dims int) error
	// Upsert inserts records, replacing any with the same id.
	Upsert(ctx context.Context, records []VectorRecord) error
	// Search returns at most topK hits by ascending distance.
	Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error)
	// Count returns the number of stored entries.
	Count(ctx context.Context) (uint64, error)
	Close() error
}

// ErrDimensionMismatch is returned when a vector's length differs from the
// collection's.
var ErrDimensionMismatch = errors.New("semantic: vector dimension mismatch")

func checkDims(want int, records []VectorRecord) error {
	if want <= 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Embedding) != want {
			return fmt.Errorf("%w: record %s has %d, collection has %d", ErrDimensionMismatch, r.ID, len(r.Embedding), want)
		}
	}
	return nil
}
