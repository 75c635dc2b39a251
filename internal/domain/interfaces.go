package domain

import "context"

// Metadata carries scalar key/value pairs attached to a stored item.
// Every chunk produced by the chunker includes at least doc_id and
// chunk_index; caller-supplied base metadata is merged in.
type Metadata map[string]any

// StoredItem is the unit of upsert: one chunk of text, its storage
// embedding and its metadata. Items are immutable once created.
type StoredItem struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

// SearchResult is a single ranked hit from a similarity search.
// Score is the raw value under the store's metric: inner product
// (higher is better) or Euclidean distance (lower is better).
type SearchResult struct {
	ID       string
	Text     string
	Metadata Metadata
	Score    float32
}

// Embedder converts batches of text into dense float32 vectors.
// Implementations must return exactly one vector per input, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Chunker splits one document's cleaned text into stored items whose
// boundaries track topic shifts.
type Chunker interface {
	Process(ctx context.Context, text, docID string, baseMeta Metadata) ([]StoredItem, error)
}

// VectorStore is the durable, queryable home for stored items.
type VectorStore interface {
	Upsert(items []StoredItem) error
	SearchByVector(vector []float32, topK int) ([]SearchResult, error)
	SearchByText(ctx context.Context, query string, embedder Embedder, topK int) ([]SearchResult, error)
	Persist() error
	Load() error
	Close() error
}

// Pipeline defines the ingestion and query operations exposed by the
// application core.
type Pipeline interface {
	IngestText(ctx context.Context, text, docID string, baseMeta Metadata) (int, error)
	Query(ctx context.Context, query string, topK int) ([]SearchResult, error)
}
