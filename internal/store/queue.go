package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
)

// Sentinel errors for expected conditions.
var (
	// ErrNotFound is returned when a pending log does not exist.
	ErrNotFound = errors.New("pending log not found")

	// ErrStorage wraps every fault of the durable queue itself
	// (disk full, database locked, corrupt file). Callers that cannot
	// fall back anywhere surface it to the user.
	ErrStorage = errors.New("local queue storage failure")
)

// Queue is the durable client-side table of pending logs.
// Presence of a record means it has not been delivered.
type Queue interface {
	// Add inserts a new record. Fails on storage faults or a duplicate ID.
	Add(ctx context.Context, log *models.PendingLog) error

	// ListPending returns all undelivered records, photos included.
	// Order is backend-defined.
	ListPending(ctx context.Context) ([]*models.PendingLog, error)

	// Get returns a single record. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*models.PendingLog, error)

	// Remove deletes a record and its photo. Returns ErrNotFound if missing.
	Remove(ctx context.Context, id string) error

	// Count returns the number of stored records; with pendingOnly only
	// those not flagged as synced.
	Count(ctx context.Context, pendingOnly bool) (int, error)

	// Close releases the underlying database.
	Close() error
}

// SyncMarker persists when the queue was last drained, so the status
// badge survives restarts. Both backends implement it.
type SyncMarker interface {
	LastSynced(ctx context.Context) (time.Time, error)
	MarkSynced(ctx context.Context, t time.Time) error
}

var (
	_ SyncMarker = (*Store)(nil)
	_ SyncMarker = (*SQLiteStore)(nil)
)

// Backend names accepted by Open.
const (
	BackendBbolt  = "bbolt"
	BackendSQLite = "sqlite"
)

// Open opens the queue backend at path, creating and initializing it if needed.
func Open(backend, path string) (Queue, error) {
	switch backend {
	case "", BackendBbolt:
		st, err := New(path)
		if err != nil {
			return nil, err
		}
		if err := st.Initialize(); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case BackendSQLite:
		st, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := st.Initialize(); err != nil {
			st.Close()
			return nil, err
		}
		if err := st.RunMigrations(); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q (want %s or %s)", backend, BackendBbolt, BackendSQLite)
	}
}

// storageErr tags err as a local storage failure.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
