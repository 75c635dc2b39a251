package flat

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"semrag/internal/domain"
	"semrag/internal/sidecar"
	"semrag/internal/vectorstore"
)

func newTestStore(t *testing.T, dir string, dim int, metric vectorstore.Metric) *Store {
	t.Helper()
	side, err := sidecar.OpenJSONL(filepath.Join(dir, "meta.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir, dim, metric, side)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, vec []float32) domain.StoredItem {
	return domain.StoredItem{
		ID:       id,
		Text:     "text of " + id,
		Vector:   vec,
		Metadata: domain.Metadata{"doc_id": "doc", "chunk_index": 0},
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	side, err := sidecar.OpenJSONL(filepath.Join(dir, "meta.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer side.Close()

	if _, err := Open(dir, 0, vectorstore.MetricIP, side); !errors.Is(err, vectorstore.ErrInvalidDimension) {
		t.Errorf("dim 0: got %v", err)
	}
	if _, err := Open(dir, 2, "cosine", side); !errors.Is(err, vectorstore.ErrInvalidMetric) {
		t.Errorf("bad metric: got %v", err)
	}
}

func TestSearch_InnerProductFixture(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	err := s.Upsert([]domain.StoredItem{
		item("a", []float32{1, 0}),
		item("b", []float32{0, 1}),
		item("c", []float32{0.9, 0.1}),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.SearchByVector([]float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[0].ID != "a" || res[1].ID != "c" {
		t.Fatalf("order = %s, %s; want a, c", res[0].ID, res[1].ID)
	}
	if res[0].Score <= res[1].Score {
		t.Errorf("scores not strictly decreasing: %v, %v", res[0].Score, res[1].Score)
	}
	if res[0].Text != "text of a" {
		t.Errorf("sidecar text = %q", res[0].Text)
	}
	if res[0].Metadata["doc_id"] != "doc" {
		t.Errorf("sidecar metadata = %v", res[0].Metadata)
	}
}

func TestSearch_L2Ordering(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricL2)
	err := s.Upsert([]domain.StoredItem{
		item("far", []float32{3, 4}),
		item("near", []float32{0, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.SearchByVector([]float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].ID != "near" || res[1].ID != "far" {
		t.Fatalf("order = %s, %s", res[0].ID, res[1].ID)
	}
	if res[0].Score != 0 || res[1].Score != 5 {
		t.Errorf("scores = %v, %v; want 0, 5", res[0].Score, res[1].Score)
	}
}

func TestSearch_TiesByInsertionOrder(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	err := s.Upsert([]domain.StoredItem{
		item("first", []float32{0.5, 0.5}),
		item("second", []float32{0.5, 0.5}),
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.SearchByVector([]float32{1, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].ID != "first" || res[1].ID != "second" {
		t.Errorf("tie order = %s, %s", res[0].ID, res[1].ID)
	}
}

func TestUpsert_DimensionGuard(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	err := s.Upsert([]domain.StoredItem{
		item("ok", []float32{1, 0}),
		item("bad", []float32{1, 0, 0}),
	})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
	// Nothing from the batch may have been inserted.
	if s.Count() != 0 {
		t.Errorf("count = %d after rejected batch, want 0", s.Count())
	}
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	if err := s.Upsert(nil); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("count = %d", s.Count())
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	res, err := s.SearchByVector([]float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Errorf("got %d results from empty store", len(res))
	}
}

func TestSearch_InputErrors(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	if _, err := s.SearchByVector([]float32{1, 0}, 0); !errors.Is(err, vectorstore.ErrInvalidTopK) {
		t.Errorf("topK 0: got %v", err)
	}
	if _, err := s.SearchByVector([]float32{1, 0, 0}, 1); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("bad dim: got %v", err)
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	err := s.Upsert([]domain.StoredItem{
		item("a", []float32{1, 0}),
		item("b", []float32{0, 1}),
		item("c", []float32{0.9, 0.1}),
	})
	if err != nil {
		t.Fatal(err)
	}
	before, err := s.SearchByVector([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same directory must reconstruct the same
	// pairing and the same search results.
	fresh := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if fresh.Count() != 3 {
		t.Fatalf("loaded count = %d, want 3", fresh.Count())
	}
	after, err := fresh.SearchByVector([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("result count changed: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Score != after[i].Score {
			t.Errorf("result %d changed: %+v vs %+v", i, before[i], after[i])
		}
		if before[i].Text != after[i].Text {
			t.Errorf("result %d text changed: %q vs %q", i, before[i].Text, after[i].Text)
		}
	}
}

func TestLoad_NothingOnDisk(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("count = %d", s.Count())
	}
}

func TestLoad_MissingHalfIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := s.Upsert([]domain.StoredItem{item("a", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "ids.json")); err != nil {
		t.Fatal(err)
	}

	fresh := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := fresh.Load(); !errors.Is(err, vectorstore.ErrInconsistent) {
		t.Fatalf("got %v, want ErrInconsistent", err)
	}
}

func TestLoad_CountMismatchIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := s.Upsert([]domain.StoredItem{item("a", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ids.json"), []byte(`["a","ghost"]`), 0o644); err != nil {
		t.Fatal(err)
	}

	fresh := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := fresh.Load(); !errors.Is(err, vectorstore.ErrInconsistent) {
		t.Fatalf("got %v, want ErrInconsistent", err)
	}
}

func TestSearch_SidecarMissingEntry(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := s.Upsert([]domain.StoredItem{item("a", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	// Wipe the sidecar: search must still return the stored ID, with
	// empty text and metadata.
	if err := os.WriteFile(filepath.Join(dir, "meta.jsonl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.SearchByVector([]float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("res = %+v", res)
	}
	if res[0].Text != "" {
		t.Errorf("text = %q, want empty", res[0].Text)
	}
	if res[0].Metadata == nil || len(res[0].Metadata) != 0 {
		t.Errorf("metadata = %v, want empty map", res[0].Metadata)
	}
}

func TestUpsert_DuplicateIDLastWriteWins(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	first := item("dup", []float32{1, 0})
	first.Text = "old text"
	second := item("dup", []float32{0.8, 0.2})
	second.Text = "new text"
	if err := s.Upsert([]domain.StoredItem{first}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert([]domain.StoredItem{second}); err != nil {
		t.Fatal(err)
	}

	// Both index rows remain, but metadata lookup resolves to the
	// latest write for the shared ID.
	if s.Count() != 2 {
		t.Fatalf("count = %d, want 2", s.Count())
	}
	res, err := s.SearchByVector([]float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res {
		if r.ID != "dup" {
			t.Fatalf("unexpected id %q", r.ID)
		}
		if r.Text != "new text" {
			t.Errorf("text = %q, want latest write", r.Text)
		}
	}
}

// indexHeader builds an index.bin header claiming the given dim and row
// count.
func indexHeader(dim, count uint64) []byte {
	h := make([]byte, headerSize)
	copy(h[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(h[8:16], dim)
	binary.LittleEndian.PutUint64(h[16:24], count)
	return h
}

func TestLoad_LyingHeaderCountIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	// Header claims an absurd row count but carries no rows at all.
	if err := os.WriteFile(filepath.Join(dir, indexFile), indexHeader(2, 1<<60), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, idsFile), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := s.Load(); !errors.Is(err, vectorstore.ErrInconsistent) {
		t.Fatalf("Load = %v, want ErrInconsistent", err)
	}
}

func TestLoad_PartialRowIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	// One claimed row but only half of it on disk.
	data := append(indexHeader(2, 1), make([]byte, 4)...)
	if err := os.WriteFile(filepath.Join(dir, indexFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, idsFile), []byte(`["a"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, dir, 2, vectorstore.MetricIP)
	if err := s.Load(); !errors.Is(err, vectorstore.ErrInconsistent) {
		t.Fatalf("Load = %v, want ErrInconsistent", err)
	}
}

func TestSearchByText(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 2, vectorstore.MetricIP)
	if err := s.Upsert([]domain.StoredItem{item("a", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	res, err := s.SearchByText(context.Background(), "anything", fixedEmbedder{[]float32{1, 0}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("res = %+v", res)
	}
}

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = e.vec
	}
	return out, nil
}

func (e fixedEmbedder) Dimension() int { return len(e.vec) }
