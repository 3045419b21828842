// Package metastore provides the server-side storage for assets and delivered logs.
package metastore

import (
	"context"
	"errors"

	"github.com/sentinelops/fleetsync/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// MetaStore defines the contract for server-side metadata persistence.
type MetaStore interface {
	// Assets
	CreateAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	ListAssets(ctx context.Context) ([]*models.Asset, error)
	UpdateAssetHours(ctx context.Context, id string, hours float64) (*models.Asset, error)

	// InsertLog stores l unless a log was already stored under key, in which
	// case the earlier log is returned and created is false. An empty key
	// disables deduplication.
	InsertLog(ctx context.Context, l *models.StoredLog, key string) (stored *models.StoredLog, created bool, err error)

	// ListLogsByAsset returns an asset's logs, newest first.
	ListLogsByAsset(ctx context.Context, assetID string, limit int) ([]*models.StoredLog, error)

	LogCount(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
