// Package manifeststore persists a telemetry cursor snapshot per worker
// id across server restarts, used only when the manifest's
// cursor.retain_on_boot flag is set. The core namespace tree excludes
// on-disk storage entirely, so a boot-time cursor replay is layered
// outside the namespace's own in-memory contract: one bolt.DB file, one
// bucket per concern, opened once and reused.
package manifeststore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const cursorBucket = "telemetry_cursors"

// Cursor is the snapshot retained for one worker's telemetry ring: how
// far a consumer had read, and when it was last observed. It carries no
// ring contents; only the namespace's in-memory ring is authoritative
// for data. This is bookkeeping for where a reconnecting consumer
// should resume.
type Cursor struct {
	WorkerID   string    `json:"worker_id"`
	ReadOffset uint64    `json:"read_offset"`
	ObservedAt time.Time `json:"observed_at"`
}

// Store wraps a single bolt.DB file holding one Cursor per worker id.
type Store struct {
	db *bolt.DB
}

// Open creates or reopens the cursor store at path, creating the bucket
// on first use.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("manifeststore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bolt.DB file handle.
func (s *Store) Close() error { return s.db.Close() }

// Put persists (or overwrites) one worker's cursor.
func (s *Store) Put(c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		return b.Put([]byte(c.WorkerID), data)
	})
}

// Get retrieves a worker's cursor, returning ok=false if none is
// stored (the common case for a freshly spawned worker).
func (s *Store) Get(workerID string) (Cursor, bool, error) {
	var c Cursor
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		data := b.Get([]byte(workerID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return Cursor{}, false, err
	}
	return c, found, nil
}

// Delete removes a worker's cursor.
func (s *Store) Delete(workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		return b.Delete([]byte(workerID))
	})
}

// All returns every retained cursor; cmd/ninedoor-serve records how many
// there are at boot.
func (s *Store) All() ([]Cursor, error) {
	var out []Cursor
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		return b.ForEach(func(_, data []byte) error {
			var c Cursor
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}
