// Package vectorstore declares the storage contract for stored items and
// the errors shared by its implementations.
package vectorstore

import (
	"errors"

	"semrag/internal/domain"
)

// Metric is the similarity metric a store ranks by. It is fixed at
// construction time and never changes for the store's lifetime.
type Metric string

const (
	// MetricIP ranks by inner product, higher is better. Use with
	// normalized embeddings.
	MetricIP Metric = "ip"

	// MetricL2 ranks by Euclidean distance, lower is better.
	MetricL2 Metric = "l2"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m == MetricIP || m == MetricL2
}

// Errors surfaced by store implementations.
var (
	// ErrInvalidMetric is returned at construction for an unknown metric.
	ErrInvalidMetric = errors.New("vectorstore: invalid metric")

	// ErrInvalidDimension is returned at construction for dim < 1.
	ErrInvalidDimension = errors.New("vectorstore: invalid dimension")

	// ErrDimensionMismatch is returned when an input vector's length
	// differs from the store's configured dimension.
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")

	// ErrInvalidTopK is returned for search requests with topK < 1.
	ErrInvalidTopK = errors.New("vectorstore: topK must be at least 1")

	// ErrInconsistent is returned when on-disk state cannot be
	// reconciled: the index and ID list disagree, or only one of the
	// two exists. It is surfaced rather than auto-healed.
	ErrInconsistent = errors.New("vectorstore: inconsistent persisted state")
)

// Storage persists stored items and supports similarity search.
type Storage = domain.VectorStore
