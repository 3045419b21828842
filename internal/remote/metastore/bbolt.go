package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAssets      = []byte("assets")
	bucketLogs        = []byte("logs")
	bucketAssetLogs   = []byte("asset_logs")
	bucketIdempotency = []byte("idempotency")
)

// BboltStore implements MetaStore using bbolt.
type BboltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAssets, bucketLogs, bucketAssetLogs, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db, now: time.Now}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateAsset stores a new asset. Returns ErrConflict if the id is taken.
func (s *BboltStore) CreateAsset(_ context.Context, a *models.Asset) error {
	if a.ID == "" {
		return fmt.Errorf("asset ID is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if a.Status == "" {
		a.Status = models.AssetActive
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssets)
		if b.Get([]byte(a.ID)) != nil {
			return fmt.Errorf("asset %s: %w", a.ID, ErrConflict)
		}
		return putJSON(b, a.ID, a)
	})
}

// GetAsset retrieves an asset by ID. Returns ErrNotFound if missing.
func (s *BboltStore) GetAsset(_ context.Context, id string) (*models.Asset, error) {
	var asset *models.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		asset, err = getAsset(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// ListAssets returns all assets sorted by internal id.
func (s *BboltStore) ListAssets(_ context.Context) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(_, v []byte) error {
			var a models.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshal asset: %w", err)
			}
			assets = append(assets, &a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(assets, func(i, j int) bool {
		return assets[i].InternalID < assets[j].InternalID
	})
	return assets, nil
}

// UpdateAssetHours sets an asset's hour meter and returns the updated asset.
func (s *BboltStore) UpdateAssetHours(_ context.Context, id string, hours float64) (*models.Asset, error) {
	var asset *models.Asset
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		asset, err = getAsset(tx, id)
		if err != nil {
			return err
		}
		asset.CurrentHours = hours
		return putJSON(tx.Bucket(bucketAssets), id, asset)
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// InsertLog atomically stores a log, its asset index entry and its
// idempotency key. The asset must exist.
func (s *BboltStore) InsertLog(_ context.Context, l *models.StoredLog, key string) (*models.StoredLog, bool, error) {
	var (
		stored  *models.StoredLog
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket(bucketIdempotency)
		logs := tx.Bucket(bucketLogs)

		if key != "" {
			if prevID := idem.Get([]byte(key)); prevID != nil {
				data := logs.Get(prevID)
				if data == nil {
					return fmt.Errorf("idempotency key %s points at missing log %s", key, prevID)
				}
				stored = &models.StoredLog{}
				return json.Unmarshal(data, stored)
			}
		}

		if _, err := getAsset(tx, l.AssetID); err != nil {
			return err
		}
		if logs.Get([]byte(l.ID)) != nil {
			return fmt.Errorf("log %s: %w", l.ID, ErrConflict)
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = s.now().UTC()
		}

		if err := putJSON(logs, l.ID, l); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAssetLogs).Put([]byte(assetLogKey(l)), []byte(l.ID)); err != nil {
			return fmt.Errorf("index log: %w", err)
		}
		if key != "" {
			if err := idem.Put([]byte(key), []byte(l.ID)); err != nil {
				return fmt.Errorf("store idempotency key: %w", err)
			}
		}
		stored = l
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// ListLogsByAsset walks the asset index backwards so the newest log comes first.
// A limit of zero or less returns every log.
func (s *BboltStore) ListLogsByAsset(_ context.Context, assetID string, limit int) ([]*models.StoredLog, error) {
	var out []*models.StoredLog
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getAsset(tx, assetID); err != nil {
			return err
		}
		logs := tx.Bucket(bucketLogs)
		prefix := assetID + ":"
		c := tx.Bucket(bucketAssetLogs).Cursor()

		// Position after the last key carrying the prefix.
		k, v := c.Seek([]byte(assetID + ";"))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Prev() {
			data := logs.Get(v)
			if data == nil {
				continue
			}
			var l models.StoredLog
			if err := json.Unmarshal(data, &l); err != nil {
				return fmt.Errorf("unmarshal log: %w", err)
			}
			out = append(out, &l)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LogCount returns the total number of stored logs.
func (s *BboltStore) LogCount(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketLogs).Stats().KeyN
		return nil
	})
	return count, err
}

func getAsset(tx *bolt.Tx, id string) (*models.Asset, error) {
	data := tx.Bucket(bucketAssets).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	var a models.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}
	return &a, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// assetLogKey orders an asset's logs by creation time, then id.
func assetLogKey(l *models.StoredLog) string {
	return fmt.Sprintf("%s:%020d:%s", l.AssetID, l.CreatedAt.UnixNano(), l.ID)
}
