package sidecar

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// Bolt is a bbolt-backed Log keyed by item ID. It keeps the append
// contract (every write is durable before Append returns, last write per
// ID wins) while replacing the JSONL full-file scan with keyed lookup.
type Bolt struct {
	db *bbolt.DB
}

var _ Log = (*Bolt)(nil)

// OpenBolt opens (creating if needed) the sidecar database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("sidecar: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sidecar: init %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketRecords)
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("sidecar: marshal record %s: %w", rec.ID, err)
			}
			if err := bk.Put([]byte(rec.ID), data); err != nil {
				return fmt.Errorf("sidecar: put %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

func (b *Bolt) Snapshot() (map[string]Record, error) {
	out := make(map[string]Record)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil || rec.ID == "" {
				return nil // tolerate damaged entries
			}
			out[rec.ID] = rec
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sidecar: snapshot: %w", err)
	}
	return out, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
