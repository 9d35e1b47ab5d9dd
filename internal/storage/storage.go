// Package storage provides persistent state for the lead-scoring
// engine using BoltDB: model version metadata, (prediction, outcome)
// pairs consumed by drift detection and retraining, and A/B test state
// that must survive restarts.
//
// The package provides thread-safe operations with time-ordered keys
// and efficient range queries.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/model"
)

const (
	modelsBucket   = "models"   // model version metadata keyed by id
	outcomesBucket = "outcomes" // (prediction, outcome) pairs keyed by modelID_tsNano
	abTestsBucket  = "abtests"  // serialized A/B test state keyed by test id
)

// Store provides persistent storage backed by a single BoltDB file.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database at dataPath and ensures all
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "leadscore.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, outcomesBucket, abTestsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveVersion upserts a model version's metadata.
func (s *Store) SaveVersion(v model.Version) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		return b.Put([]byte(v.ID), data)
	})
}

// ListVersions returns all stored model versions.
func (s *Store) ListVersions() ([]model.Version, error) {
	var versions []model.Version

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))
		return b.ForEach(func(_, v []byte) error {
			var ver model.Version
			if err := json.Unmarshal(v, &ver); err != nil {
				return nil // skip malformed records
			}
			versions = append(versions, ver)
			return nil
		})
	})

	return versions, err
}

// StoreOutcome records a (prediction, outcome) pair. Keys are
// modelID_tsNano so range scans by model and time window are cheap.
func (s *Store) StoreOutcome(o lead.Outcome) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(outcomesBucket))

		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}

		key := fmt.Sprintf("%s_%d", o.ModelID, o.RecordedAt.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// RecentOutcomes returns outcome pairs for a model recorded at or
// after since, in time order.
func (s *Store) RecentOutcomes(modelID string, since time.Time) ([]lead.Outcome, error) {
	var outcomes []lead.Outcome

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(outcomesBucket))
		c := b.Cursor()

		prefix := []byte(modelID + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", modelID, since.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var o lead.Outcome
			if err := json.Unmarshal(v, &o); err != nil {
				continue // skip malformed records
			}
			outcomes = append(outcomes, o)
		}
		return nil
	})

	return outcomes, err
}

// CountOutcomesSince counts outcome pairs for a model since the given
// time without materializing them.
func (s *Store) CountOutcomesSince(modelID string, since time.Time) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(outcomesBucket))
		c := b.Cursor()

		prefix := []byte(modelID + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", modelID, since.UnixNano()))

		for k, _ := c.Seek(startKey); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// PutABTest stores serialized A/B test state under the test id.
func (s *Store) PutABTest(id string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(abTestsBucket)).Put([]byte(id), data)
	})
}

// ListABTests returns all serialized A/B tests keyed by id.
func (s *Store) ListABTests() (map[string][]byte, error) {
	tests := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(abTestsBucket))
		return b.ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			tests[string(k)] = cp
			return nil
		})
	})
	return tests, err
}
