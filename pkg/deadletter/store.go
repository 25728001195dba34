package deadletter

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPersisterBatches = []byte("persister_batches")
	bucketDeliveryJobs     = []byte("delivery_jobs")
)

// Store is an embedded BoltDB-backed dead-letter sink shared by the batch
// persister and the delivery worker pool.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the dead-letter database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "deadletter.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPersisterBatches, bucketDeliveryJobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
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

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutBatch records a persister batch that failed to flush after exhausting
// its retry budget, under the given id (typically a timestamp-derived key).
func (s *Store) PutBatch(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPersisterBatches).Put([]byte(id), data)
	})
}

// ListBatches returns every dead-lettered persister batch, most useful for
// an operator replay tool.
func (s *Store) ListBatches() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPersisterBatches).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	return out, err
}

// PutDeliveryJob records a delivery job that exhausted max_retries or was
// still awaiting a retry at shutdown, under its event_id+endpoint_id.
func (s *Store) PutDeliveryJob(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryJobs).Put([]byte(id), data)
	})
}

// ListDeliveryJobs returns every dead-lettered delivery job.
func (s *Store) ListDeliveryJobs() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryJobs).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	return out, err
}

// DeleteDeliveryJob removes a job once an operator has dealt with it
// (replayed or discarded).
func (s *Store) DeleteDeliveryJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryJobs).Delete([]byte(id))
	})
}
