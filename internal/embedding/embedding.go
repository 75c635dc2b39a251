// Package embedding defines the text embedding capability and its errors.
//
// An Embedder converts batches of text into dense float32 vectors of a
// fixed dimension. The chunker uses one embedder for boundary detection
// and another (possibly the same) for storage embeddings; the query path
// reuses the storage embedder.
package embedding

import (
	"context"
	"errors"
)

// Embedder converts batches of text into dense float32 vectors.
//
// EmbedBatch must return exactly one vector per input text, in input
// order. Implementations do not retry internally; transient provider
// failures propagate to the caller.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Common errors.
var (
	// ErrEmptyInput is returned when no text is supplied.
	ErrEmptyInput = errors.New("embedding: empty input")

	// ErrCountMismatch is returned when a provider yields a different
	// number of vectors than texts it was given.
	ErrCountMismatch = errors.New("embedding: vector count does not match input count")
)
