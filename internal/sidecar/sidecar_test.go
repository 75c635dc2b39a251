package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"semrag/internal/domain"
)

func testLog(t *testing.T, name string, open func(t *testing.T) Log) {
	t.Run(name+"/append and snapshot", func(t *testing.T) {
		l := open(t)
		err := l.Append([]Record{
			{ID: "a", Text: "alpha", Metadata: domain.Metadata{"doc_id": "d1"}},
			{ID: "b", Text: "beta", Metadata: domain.Metadata{"doc_id": "d1"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		snap, err := l.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if len(snap) != 2 {
			t.Fatalf("snapshot size = %d, want 2", len(snap))
		}
		if snap["a"].Text != "alpha" || snap["b"].Text != "beta" {
			t.Errorf("snapshot = %v", snap)
		}
		if snap["a"].Metadata["doc_id"] != "d1" {
			t.Errorf("metadata = %v", snap["a"].Metadata)
		}
	})

	t.Run(name+"/last write wins", func(t *testing.T) {
		l := open(t)
		if err := l.Append([]Record{{ID: "x", Text: "old"}}); err != nil {
			t.Fatal(err)
		}
		if err := l.Append([]Record{{ID: "x", Text: "new"}}); err != nil {
			t.Fatal(err)
		}
		snap, err := l.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if snap["x"].Text != "new" {
			t.Errorf("text = %q, want latest write", snap["x"].Text)
		}
	})

	t.Run(name+"/empty append", func(t *testing.T) {
		l := open(t)
		if err := l.Append(nil); err != nil {
			t.Fatal(err)
		}
		snap, err := l.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if len(snap) != 0 {
			t.Errorf("snapshot = %v", snap)
		}
	})
}

func TestJSONL(t *testing.T) {
	testLog(t, "jsonl", func(t *testing.T) Log {
		l, err := OpenJSONL(filepath.Join(t.TempDir(), "meta.jsonl"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestBolt(t *testing.T) {
	testLog(t, "bolt", func(t *testing.T) Log {
		l, err := OpenBolt(filepath.Join(t.TempDir(), "meta.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestJSONL_ToleratesMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.jsonl")
	l, err := OpenJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Append([]Record{{ID: "good", Text: "kept"}}); err != nil {
		t.Fatal(err)
	}
	// Simulate a torn write in the middle of the log.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"id\": \"torn\", \"tex\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := l.Append([]Record{{ID: "later", Text: "also kept"}}); err != nil {
		t.Fatal(err)
	}

	snap, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("snapshot = %v, want the two intact records", snap)
	}
	if snap["good"].Text != "kept" || snap["later"].Text != "also kept" {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestJSONL_SnapshotHugeRecord(t *testing.T) {
	l, err := OpenJSONL(filepath.Join(t.TempDir(), "meta.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Larger than any fixed line buffer a scanner would allow.
	huge := strings.Repeat("a", 17<<20)
	if err := l.Append([]Record{{ID: "big", Text: huge}}); err != nil {
		t.Fatal(err)
	}
	snap, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if got := snap["big"].Text; len(got) != len(huge) {
		t.Errorf("record text length = %d, want %d", len(got), len(huge))
	}
}

func TestJSONL_SnapshotBeforeFirstWrite(t *testing.T) {
	l, err := OpenJSONL(filepath.Join(t.TempDir(), "meta.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	snap, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot = %v", snap)
	}
}
