// Package sidecar stores the {id, text, metadata} record kept alongside
// every vector index row.
//
// The log is append-only: records are never rewritten, and upserting the
// same ID twice appends a second record. Lookup is last-write-wins. Two
// backends implement the contract: a JSONL file scanned in full on every
// snapshot (the simple default) and a bbolt database keyed by ID for
// stores where the linear scan no longer holds up.
package sidecar

import "semrag/internal/domain"

// Record is one sidecar entry.
type Record struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
}

// Log is an append-only record log keyed by item ID.
type Log interface {
	// Append durably adds records in order. Records for an existing ID
	// are appended, not replaced.
	Append(records []Record) error

	// Snapshot returns the latest record per ID. Unreadable entries are
	// skipped rather than failing the whole read.
	Snapshot() (map[string]Record, error)

	// Close releases the underlying storage.
	Close() error
}
