package sidecar

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSONL is the file-backed Log: one JSON record per line, appended and
// synced on every write. Snapshot re-reads the whole file.
type JSONL struct {
	path string
	file *os.File
}

var _ Log = (*JSONL)(nil)

// OpenJSONL opens (creating if needed) the sidecar file at path.
func OpenJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sidecar: open %s: %w", path, err)
	}
	return &JSONL{path: path, file: f}, nil
}

func (l *JSONL) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	w := bufio.NewWriter(l.file)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sidecar: marshal record %s: %w", rec.ID, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("sidecar: append: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("sidecar: flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sidecar: sync: %w", err)
	}
	return nil
}

func (l *JSONL) Snapshot() (map[string]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("sidecar: read %s: %w", l.path, err)
	}
	defer f.Close()

	out := make(map[string]Record)
	r := bufio.NewReader(f)
	for {
		// ReadBytes has no line length cap, so records are only bounded
		// by what Append accepted.
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec Record
			// Malformed lines are tolerated: a damaged sidecar must
			// not block search.
			if jsonErr := json.Unmarshal(line, &rec); jsonErr == nil && rec.ID != "" {
				out[rec.ID] = rec
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sidecar: scan %s: %w", l.path, err)
		}
	}
}

func (l *JSONL) Close() error {
	return l.file.Close()
}
