package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
)

// Shared is a Queue that opens the backing file for each call and closes
// it again. bbolt holds an exclusive file lock while open, so a
// long-running agent must not keep the queue open or every other command
// would fail to add or list logs.
type Shared struct {
	backend string
	path    string

	// one open handle per process at a time
	mu sync.Mutex
}

var (
	_ Queue      = (*Shared)(nil)
	_ SyncMarker = (*Shared)(nil)
)

// OpenShared validates backend and creates the queue at path if needed.
// The file is closed again before it returns.
func OpenShared(backend, path string) (*Shared, error) {
	q, err := Open(backend, path)
	if err != nil {
		return nil, err
	}
	if err := q.Close(); err != nil {
		return nil, storageErr("close database", err)
	}
	return &Shared{backend: backend, path: path}, nil
}

func (s *Shared) with(fn func(Queue) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := Open(s.backend, s.path)
	if err != nil {
		return err
	}
	err = fn(q)
	if cerr := q.Close(); cerr != nil && err == nil {
		err = storageErr("close database", cerr)
	}
	return err
}

func (s *Shared) Add(ctx context.Context, log *models.PendingLog) error {
	return s.with(func(q Queue) error { return q.Add(ctx, log) })
}

func (s *Shared) ListPending(ctx context.Context) (pending []*models.PendingLog, err error) {
	err = s.with(func(q Queue) error {
		pending, err = q.ListPending(ctx)
		return err
	})
	return pending, err
}

func (s *Shared) Get(ctx context.Context, id string) (log *models.PendingLog, err error) {
	err = s.with(func(q Queue) error {
		log, err = q.Get(ctx, id)
		return err
	})
	return log, err
}

func (s *Shared) Remove(ctx context.Context, id string) error {
	return s.with(func(q Queue) error { return q.Remove(ctx, id) })
}

func (s *Shared) Count(ctx context.Context, pendingOnly bool) (n int, err error) {
	err = s.with(func(q Queue) error {
		n, err = q.Count(ctx, pendingOnly)
		return err
	})
	return n, err
}

func (s *Shared) LastSynced(ctx context.Context) (t time.Time, err error) {
	err = s.with(func(q Queue) error {
		m, ok := q.(SyncMarker)
		if !ok {
			return fmt.Errorf("queue backend %q does not record sync times", s.backend)
		}
		t, err = m.LastSynced(ctx)
		return err
	})
	return t, err
}

func (s *Shared) MarkSynced(ctx context.Context, t time.Time) error {
	return s.with(func(q Queue) error {
		m, ok := q.(SyncMarker)
		if !ok {
			return fmt.Errorf("queue backend %q does not record sync times", s.backend)
		}
		return m.MarkSynced(ctx, t)
	})
}

// Close is a no-op; no handle outlives a call.
func (s *Shared) Close() error { return nil }
