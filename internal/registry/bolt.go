package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/kroni66/luminAI-sub000/internal/common"
)

const downloadsBucket = "downloads"

// BoltRegistry implements Registry on top of a BoltDB file. Records are
// stored as JSON rows keyed by their id.
type BoltRegistry struct {
	db *bolt.DB
}

// NewBoltRegistry opens (or creates) the database at dbPath.
func NewBoltRegistry(dbPath string) (*BoltRegistry, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create downloads bucket: %w", err)
	}

	return &BoltRegistry{db: db}, nil
}

func (r *BoltRegistry) Insert(record *common.DownloadRecord) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))

		key := []byte(record.ID.String())
		if bucket.Get(key) != nil {
			return ErrExists
		}

		return r.put(bucket, key, record)
	})
}

func (r *BoltRegistry) Update(record *common.DownloadRecord) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))

		key := []byte(record.ID.String())
		if bucket.Get(key) == nil {
			return ErrNotFound
		}

		return r.put(bucket, key, record)
	})
}

func (r *BoltRegistry) put(bucket *bolt.Bucket, key []byte, record *common.DownloadRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal download record: %w", err)
	}

	if err := bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to save download record: %w", err)
	}

	return nil
}

func (r *BoltRegistry) Get(id uuid.UUID) (*common.DownloadRecord, error) {
	var record *common.DownloadRecord

	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(downloadsBucket)).Get([]byte(id.String()))
		if data == nil {
			return ErrNotFound
		}

		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *BoltRegistry) GetAll() ([]*common.DownloadRecord, error) {
	var records []*common.DownloadRecord

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(k, v []byte) error {
			var record common.DownloadRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal download record: %w", err)
			}

			records = append(records, &record)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *BoltRegistry) Delete(id uuid.UUID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).Delete([]byte(id.String()))
	})
}

func (r *BoltRegistry) Close() error {
	return r.db.Close()
}
