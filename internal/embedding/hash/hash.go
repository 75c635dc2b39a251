// Package hash provides a deterministic local embedder for offline runs
// and tests. It hashes word tokens into a fixed number of buckets and
// L2-normalizes the resulting count vector, so texts sharing vocabulary
// land near each other under both inner-product and cosine ranking.
// It is not a substitute for a trained embedding model.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"semrag/internal/embedding"
)

// DefaultDimension is the bucket count used when none is configured.
const DefaultDimension = 256

var tokenRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder is a token-hash embedding implementation.
type Embedder struct {
	dim int
}

var _ embedding.Embedder = (*Embedder)(nil)

// New creates a hash embedder with the given dimensionality.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

// EmbedBatch returns one normalized bucket-count vector per text.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

// Dimension returns the configured bucket count.
func (e *Embedder) Dimension() int { return e.dim }

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
