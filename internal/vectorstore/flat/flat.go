// Package flat implements the vector store as an exact, position-addressed
// index: vectors and IDs live in two parallel in-memory sequences, search
// scores every stored vector, and persistence writes the pair to disk as
// a binary index file plus a JSON ID list. Item text and metadata live in
// an append-only sidecar log next to the index.
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"semrag/internal/domain"
	"semrag/internal/embedding"
	"semrag/internal/sidecar"
	"semrag/internal/vectorstore"
)

const (
	indexFile = "index.bin"
	idsFile   = "ids.json"

	// Index file layout (v1):
	//   0..7   magic "SEMVEC01"
	//   8..15  dim (uint64 LE)
	//   16..23 count (uint64 LE)
	//   24..   count × dim little-endian float32 rows
	headerSize = 24
)

var fileMagic = [8]byte{'S', 'E', 'M', 'V', 'E', 'C', '0', '1'}

// Store is the flat vector store. A single Store instance owns one
// on-disk index; callers embedding it into a concurrent service must
// serialize upserts against it, since the index, ID list and sidecar are
// mutated as three separate steps.
type Store struct {
	dir    string
	dim    int
	metric vectorstore.Metric
	side   sidecar.Log

	mu      sync.RWMutex
	vectors [][]float32
	ids     []string
}

var _ vectorstore.Storage = (*Store)(nil)

// Open creates a store rooted at dir. The store starts empty; call Load
// to pick up previously persisted state.
func Open(dir string, dim int, metric vectorstore.Metric, side sidecar.Log) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", vectorstore.ErrInvalidDimension, dim)
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrInvalidMetric, metric)
	}
	if side == nil {
		return nil, fmt.Errorf("flat: sidecar log is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flat: create %s: %w", dir, err)
	}
	return &Store{dir: dir, dim: dim, metric: metric, side: side}, nil
}

// Metric returns the store's ranking metric.
func (s *Store) Metric() vectorstore.Metric { return s.metric }

// Dimension returns the store's vector dimension.
func (s *Store) Dimension() int { return s.dim }

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Upsert appends every item's vector, ID and sidecar record in item
// order, then persists the index and ID list before returning. The batch
// is validated up front: any vector of the wrong dimension rejects the
// whole batch without mutating state. A failure after mutation began
// means memory and disk have diverged and is returned as-is.
func (s *Store) Upsert(items []domain.StoredItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if len(it.Vector) != s.dim {
			return fmt.Errorf("%w: item %s has %d, store has %d",
				vectorstore.ErrDimensionMismatch, it.ID, len(it.Vector), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]sidecar.Record, len(items))
	for i, it := range items {
		vec := make([]float32, s.dim)
		copy(vec, it.Vector)
		s.vectors = append(s.vectors, vec)
		s.ids = append(s.ids, it.ID)
		records[i] = sidecar.Record{ID: it.ID, Text: it.Text, Metadata: it.Metadata}
	}
	if err := s.side.Append(records); err != nil {
		return fmt.Errorf("flat: sidecar append: %w", err)
	}
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("flat: persist after upsert: %w", err)
	}
	return nil
}

// SearchByVector ranks every stored vector against the query and returns
// up to topK results best-first, ties broken by insertion order. An
// empty store returns an empty result. Stored IDs missing from the
// sidecar come back with empty text and metadata.
func (s *Store) SearchByVector(vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", vectorstore.ErrInvalidTopK, topK)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, store has %d",
			vectorstore.ErrDimensionMismatch, len(vector), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return nil, nil
	}

	scores := make([]float32, len(s.vectors))
	for i, v := range s.vectors {
		scores[i] = s.score(vector, v)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	if s.metric == vectorstore.MetricL2 {
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	} else {
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	}
	if topK < len(order) {
		order = order[:topK]
	}

	meta, err := s.side.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("flat: sidecar snapshot: %w", err)
	}

	results := make([]domain.SearchResult, len(order))
	for rank, idx := range order {
		id := s.ids[idx]
		rec, ok := meta[id]
		if !ok {
			rec = sidecar.Record{ID: id, Metadata: domain.Metadata{}}
		}
		if rec.Metadata == nil {
			rec.Metadata = domain.Metadata{}
		}
		results[rank] = domain.SearchResult{
			ID:       id,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    scores[idx],
		}
	}
	return results, nil
}

// SearchByText embeds the query with the supplied embedder and delegates
// to SearchByVector.
func (s *Store) SearchByText(ctx context.Context, query string, embedder domain.Embedder, topK int) ([]domain.SearchResult, error) {
	vecs, err := embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("flat: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("flat: query embedding returned %d vectors: %w",
			len(vecs), embedding.ErrCountMismatch)
	}
	return s.SearchByVector(vecs[0], topK)
}

func (s *Store) score(q, v []float32) float32 {
	switch s.metric {
	case vectorstore.MetricL2:
		var sum float64
		for i := range q {
			d := float64(q[i]) - float64(v[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default:
		var dot float64
		for i := range q {
			dot += float64(q[i]) * float64(v[i])
		}
		return float32(dot)
	}
}

// Persist writes the index and ID list to disk such that a later Load
// reconstructs the identical pairing.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := s.writeIndex(); err != nil {
		return err
	}
	data, err := json.Marshal(s.ids)
	if err != nil {
		return fmt.Errorf("marshal ids: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, idsFile), data, 0o644); err != nil {
		return fmt.Errorf("write ids: %w", err)
	}
	return nil
}

func (s *Store) writeIndex() error {
	f, err := os.Create(filepath.Join(s.dir, indexFile))
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	w := bufio.NewWriter(f)

	header := make([]byte, headerSize)
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(header[8:16], uint64(s.dim))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(s.vectors)))
	if _, err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write index header: %w", err)
	}

	row := make([]byte, s.dim*4)
	for _, vec := range s.vectors {
		for i, v := range vec {
			binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(v))
		}
		if _, err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write index row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	return f.Close()
}

// Load replaces in-memory state with the persisted index and ID list.
// Nothing on disk leaves the store empty. Finding only one of the two
// files, or files whose counts disagree, is a consistency error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxPath := filepath.Join(s.dir, indexFile)
	idsPath := filepath.Join(s.dir, idsFile)
	haveIdx := fileExists(idxPath)
	haveIDs := fileExists(idsPath)

	if !haveIdx && !haveIDs {
		return nil
	}
	if haveIdx != haveIDs {
		return fmt.Errorf("%w: have index=%v ids=%v", vectorstore.ErrInconsistent, haveIdx, haveIDs)
	}

	vectors, err := s.readIndex(idxPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(idsPath)
	if err != nil {
		return fmt.Errorf("flat: read ids: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("flat: decode ids: %w", err)
	}

	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids for %d vectors", vectorstore.ErrInconsistent, len(ids), len(vectors))
	}

	s.vectors = vectors
	s.ids = ids
	return nil
}

func (s *Store) readIndex(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flat: open index: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short index header: %v", vectorstore.ErrInconsistent, err)
	}
	var magic [8]byte
	copy(magic[:], header[:8])
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: bad index magic", vectorstore.ErrInconsistent)
	}
	dim := binary.LittleEndian.Uint64(header[8:16])
	count := binary.LittleEndian.Uint64(header[16:24])
	if int(dim) != s.dim {
		return nil, fmt.Errorf("%w: index dim %d, store dim %d", vectorstore.ErrInconsistent, dim, s.dim)
	}

	// The header count is untrusted until it matches the file size.
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("flat: stat index: %w", err)
	}
	body := fi.Size() - headerSize
	rowSize := int64(s.dim) * 4
	if body < 0 || body%rowSize != 0 || count != uint64(body/rowSize) {
		return nil, fmt.Errorf("%w: index header claims %d rows, file holds %d bytes of rows",
			vectorstore.ErrInconsistent, count, body)
	}

	vectors := make([][]float32, count)
	row := make([]byte, s.dim*4)
	for i := range vectors {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("%w: truncated index at row %d: %v", vectorstore.ErrInconsistent, i, err)
		}
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Close releases the sidecar log.
func (s *Store) Close() error {
	return s.side.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
