// Package history persists a summary of every mirror run in a bbolt file.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "runs"

// Run is one recorded mirror run.
type Run struct {
	ID         uint64        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source"`
	Dest       string        `json:"dest"`
	Planned    int           `json:"planned"`
	Copied     int64         `json:"copied"`
	Deleted    int64         `json:"deleted"`
	Normalized int64         `json:"normalized"`
	Skipped    int64         `json:"skipped"`
	Failed     int64         `json:"failed"`
	DryRun     bool          `json:"dry_run"`
}

// Store wraps the bbolt database
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// the timeout keeps a second process from blocking forever on the file lock
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends run and returns it with its assigned ID
func (s *Store) Record(run Run) (Run, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		run.ID = id

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to encode run: %w", err)
		}
		return b.Put(key(id), data)
	})
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all runs.
func (s *Store) List(limit int) ([]Run, error) {
	runs := make([]Run, 0)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to decode run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// big-endian keys keep bbolt's byte order equal to insertion order
func key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
