// Package chunker splits document text into semantically coherent chunks.
//
// Boundaries are found by embedding a sliding window around every
// sentence, measuring the cosine distance between consecutive window
// embeddings, and cutting wherever the distance crosses a configurable
// threshold. The threshold policy mirrors the classic semantic-splitter
// options: percentile, standard_deviation and gradient.
package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"semrag/internal/domain"
	"semrag/internal/embedding"
)

// Policy selects how breakpoints are derived from the distance sequence.
type Policy string

const (
	// PolicyPercentile cuts where the distance exceeds the given
	// percentile of the whole-document distance distribution.
	PolicyPercentile Policy = "percentile"

	// PolicyStdDev cuts where the distance exceeds mean + k·stddev.
	PolicyStdDev Policy = "standard_deviation"

	// PolicyGradient cuts at sharp rises of the distance sequence: the
	// centered gradient is computed and thresholded by percentile.
	PolicyGradient Policy = "gradient"
)

// Defaults per policy, matching the usual semantic-splitter settings.
const (
	DefaultPercentile = 95.0
	DefaultStdDevs    = 3.0
	DefaultBufferSize = 1
)

// Config tunes boundary detection.
type Config struct {
	// Policy selects the breakpoint policy. Empty means percentile.
	Policy Policy

	// Amount is the policy parameter: a percentile for the percentile
	// and gradient policies, a stddev multiplier for standard_deviation.
	// Zero means the policy default.
	Amount float64

	// BufferSize is the number of neighboring sentences concatenated on
	// each side before embedding. Zero means DefaultBufferSize; it only
	// smooths boundary detection and never changes the stored text.
	BufferSize int
}

// Semantic is the semantic-distance Chunker implementation.
type Semantic struct {
	boundary embedding.Embedder
	storage  embedding.Embedder
	policy   Policy
	amount   float64
	buffer   int
}

var _ domain.Chunker = (*Semantic)(nil)

// NewSemantic creates a chunker. boundary embeds the combined sentences
// used for breakpoint detection; storage embeds the final chunk texts.
// The two may be the same embedder and need not share a dimension.
func NewSemantic(boundary, storage embedding.Embedder, cfg Config) (*Semantic, error) {
	if boundary == nil || storage == nil {
		return nil, fmt.Errorf("chunker: boundary and storage embedders are required")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyPercentile
	}
	amount := cfg.Amount
	switch policy {
	case PolicyPercentile, PolicyGradient:
		if amount == 0 {
			amount = DefaultPercentile
		}
		if amount < 0 || amount > 100 {
			return nil, fmt.Errorf("chunker: percentile amount %v out of range [0,100]", amount)
		}
	case PolicyStdDev:
		if amount == 0 {
			amount = DefaultStdDevs
		}
	default:
		return nil, fmt.Errorf("chunker: unknown breakpoint policy %q", policy)
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Semantic{
		boundary: boundary,
		storage:  storage,
		policy:   policy,
		amount:   amount,
		buffer:   buffer,
	}, nil
}

// ChunkID derives the stable chunk identifier for (docID, index).
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s::chunk_%05d", docID, index)
}

// Process splits text into chunks, embeds them with the storage embedder
// and returns items ready for upsert, in document order. Empty or
// whitespace-only text yields no items and no error. A count mismatch
// from either embedding pass aborts the whole document.
func (c *Semantic) Process(ctx context.Context, text, docID string, baseMeta domain.Metadata) ([]domain.StoredItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	texts, err := c.chunkTexts(ctx, text)
	if err != nil {
		return nil, err
	}

	vectors, err := c.storage.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("chunker: storage embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("chunker: storage embedding returned %d vectors for %d chunks: %w",
			len(vectors), len(texts), embedding.ErrCountMismatch)
	}

	items := make([]domain.StoredItem, len(texts))
	for i, t := range texts {
		meta := make(domain.Metadata, len(baseMeta)+2)
		for k, v := range baseMeta {
			meta[k] = v
		}
		meta["doc_id"] = docID
		meta["chunk_index"] = i
		items[i] = domain.StoredItem{
			ID:       ChunkID(docID, i),
			Text:     t,
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	return items, nil
}

// chunkTexts runs boundary detection and returns the chunk texts in
// document order.
func (c *Semantic) chunkTexts(ctx context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []string{sentences[0]}, nil
	}

	combined := c.combine(sentences)
	embs, err := c.boundary.EmbedBatch(ctx, combined)
	if err != nil {
		return nil, fmt.Errorf("chunker: boundary embedding: %w", err)
	}
	if len(embs) != len(combined) {
		return nil, fmt.Errorf("chunker: boundary embedding returned %d vectors for %d sentences: %w",
			len(embs), len(combined), embedding.ErrCountMismatch)
	}

	distances := make([]float64, len(embs)-1)
	for i := range distances {
		distances[i] = cosineDistance(embs[i], embs[i+1])
	}

	breaks := c.breakpoints(distances)

	var chunks []string
	start := 0
	for _, b := range breaks {
		chunks = append(chunks, strings.Join(sentences[start:b+1], " "))
		start = b + 1
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}
	return chunks, nil
}

// combine builds the windowed sentence for every position: the sentence
// joined with up to buffer neighbors on each side.
func (c *Semantic) combine(sentences []string) []string {
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-c.buffer)
		hi := min(len(sentences), i+c.buffer+1)
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

// breakpoints returns the indices i such that a chunk boundary falls
// between sentence i and sentence i+1.
func (c *Semantic) breakpoints(distances []float64) []int {
	if len(distances) == 0 {
		return nil
	}
	var scores []float64
	var threshold float64
	switch c.policy {
	case PolicyStdDev:
		scores = distances
		mean, std := meanStddev(distances)
		threshold = mean + c.amount*std
	case PolicyGradient:
		scores = gradient(distances)
		threshold = percentile(scores, c.amount)
	default: // PolicyPercentile
		scores = distances
		threshold = percentile(distances, c.amount)
	}

	var breaks []int
	for i, s := range scores {
		if s > threshold {
			breaks = append(breaks, i)
		}
	}
	return breaks
}

// SplitSentences splits text at `.`, `?` or `!` followed by whitespace.
// Each sentence keeps its terminal punctuation; surrounding whitespace is
// trimmed. Text with no terminator yields a single sentence.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// percentile computes the p-th percentile with linear interpolation
// between closest ranks.
func percentile(vals []float64, p float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func meanStddev(vals []float64) (mean, std float64) {
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}

// gradient computes centered finite differences, with one-sided
// differences at the edges.
func gradient(vals []float64) []float64 {
	n := len(vals)
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	out[0] = vals[1] - vals[0]
	out[n-1] = vals[n-1] - vals[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (vals[i+1] - vals[i-1]) / 2
	}
	return out
}
