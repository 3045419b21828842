// Package store provides the durable local queue of pending inspection logs.
// The default backend is a single embedded bbolt file; a SQLite backend is
// available for deployments that already ship SQLite tooling.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the queue.
var (
	bucketPendingLogs = []byte("pending_logs")
	bucketPhotoBlobs  = []byte("photo_blobs")
	bucketKV          = []byte("kv")
)

const keyLastSync = "last_sync"

// openTimeout is how long New waits for another process to release the
// file lock.
const openTimeout = 5 * time.Second

// Store is the bbolt-backed Queue.
type Store struct {
	db *bolt.DB
}

var _ Queue = (*Store)(nil)

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storageErr("create database directory", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, storageErr("open database", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPendingLogs, bucketPhotoBlobs, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return storageErr(fmt.Sprintf("create bucket %s", name), err)
			}
		}
		return nil
	})
}

// Add stores the record and, if present, its photo bytes in one transaction.
func (s *Store) Add(_ context.Context, log *models.PendingLog) error {
	if log.ID == "" {
		return fmt.Errorf("pending log has no id")
	}

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal pending log: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		logs := tx.Bucket(bucketPendingLogs)
		if logs.Get([]byte(log.ID)) != nil {
			return fmt.Errorf("pending log '%s' already exists", log.ID)
		}
		if err := logs.Put([]byte(log.ID), data); err != nil {
			return storageErr("store pending log", err)
		}
		if log.Photo != nil && len(log.Photo.Data) > 0 {
			if err := tx.Bucket(bucketPhotoBlobs).Put([]byte(log.ID), log.Photo.Data); err != nil {
				return storageErr("store photo blob", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// ListPending returns every record not flagged as synced, in key order.
// A row that cannot be decoded is logged and left out.
func (s *Store) ListPending(_ context.Context) ([]*models.PendingLog, error) {
	var pending []*models.PendingLog

	err := s.db.View(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketPhotoBlobs)
		return tx.Bucket(bucketPendingLogs).ForEach(func(k, v []byte) error {
			log, err := decodePendingLog(v, blobs.Get(k))
			if err != nil {
				slog.Warn("skipping undecodable pending log", "id", string(k), "error", err)
				return nil
			}
			if !log.Synced {
				pending = append(pending, log)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list pending logs", err)
	}

	return pending, nil
}

// Get retrieves a record by ID. Returns ErrNotFound if missing.
func (s *Store) Get(_ context.Context, id string) (*models.PendingLog, error) {
	var log *models.PendingLog

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPendingLogs).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		log, err = decodePendingLog(data, tx.Bucket(bucketPhotoBlobs).Get([]byte(id)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return log, nil
}

// Remove deletes a record and its photo. Returns ErrNotFound if missing.
func (s *Store) Remove(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		logs := tx.Bucket(bucketPendingLogs)
		if logs.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := logs.Delete([]byte(id)); err != nil {
			return storageErr("delete pending log", err)
		}
		if err := tx.Bucket(bucketPhotoBlobs).Delete([]byte(id)); err != nil {
			return storageErr("delete photo blob", err)
		}
		return nil
	})
}

// Count returns the number of records, optionally only the unsynced ones.
func (s *Store) Count(_ context.Context, pendingOnly bool) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingLogs)
		if !pendingOnly {
			count = b.Stats().KeyN
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var row struct {
				Synced bool `json:"synced"`
			}
			if err := json.Unmarshal(v, &row); err != nil {
				return nil // skip malformed entries
			}
			if !row.Synced {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, storageErr("count pending logs", err)
	}
	return count, nil
}

// LastSynced returns the time of the last completed sync run, or the
// zero time if none was recorded.
func (s *Store) LastSynced(_ context.Context) (time.Time, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw = append(raw, tx.Bucket(bucketKV).Get([]byte(keyLastSync))...)
		return nil
	})
	if err != nil {
		return time.Time{}, storageErr("read last sync", err)
	}
	return parseMillis(string(raw)), nil
}

// MarkSynced records t as the last completed sync run.
func (s *Store) MarkSynced(_ context.Context, t time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(keyLastSync), []byte(formatMillis(t)))
	})
	if err != nil {
		return storageErr("record last sync", err)
	}
	return nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// decodePendingLog unmarshals a row and attaches its photo bytes.
// Bytes returned by bbolt are only valid inside the transaction, so the
// blob is copied.
func decodePendingLog(row, blob []byte) (*models.PendingLog, error) {
	var log models.PendingLog
	if err := json.Unmarshal(row, &log); err != nil {
		return nil, fmt.Errorf("unmarshal pending log: %w", err)
	}
	if blob != nil {
		if log.Photo == nil {
			log.Photo = &models.Photo{}
		}
		log.Photo.Data = append([]byte(nil), blob...)
	}
	return &log, nil
}
