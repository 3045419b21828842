package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	assetA = "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f"
	assetC = "0f8fad5b-d9cb-469f-a165-70867728950e"
	opID   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

// newTestStore creates a new bbolt queue in a temp directory for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockLogService implements remote.LogService with tracking.
type mockLogService struct {
	mu sync.Mutex

	// submitErr, when set, decides the outcome per request.
	submitErr func(req *remote.SubmitLogRequest) error
	// submitHook runs before each submit (outside the lock).
	submitHook func(ctx context.Context) error
	// operatorHook runs before each operator lookup (outside the lock).
	operatorHook func(ctx context.Context) error

	operator    *models.Operator
	operatorErr error
	hoursErr    error
	uploadErr   error

	submitted   []*remote.SubmitLogRequest
	keys        []string
	hours       map[string]float64
	uploads     []string
	operatorHit int

	// key -> stored, to mimic server-side idempotency
	byKey map[string]*models.StoredLog
}

func newMockLogService() *mockLogService {
	return &mockLogService{
		operator: &models.Operator{ID: opID, Name: "Ana Quispe"},
		hours:    make(map[string]float64),
		byKey:    make(map[string]*models.StoredLog),
	}
}

func (m *mockLogService) SubmitLog(ctx context.Context, req *remote.SubmitLogRequest, key string) (*models.StoredLog, error) {
	if m.submitHook != nil {
		if err := m.submitHook(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	m.keys = append(m.keys, key)

	if !remote.IsUUID(req.AssetID) {
		return nil, fmt.Errorf("submit log for asset %q: %w", req.AssetID, remote.ErrInvalidReference)
	}
	if m.submitErr != nil {
		if err := m.submitErr(req); err != nil {
			return nil, err
		}
	}
	if prev, ok := m.byKey[key]; ok {
		return prev, nil
	}
	stored := &models.StoredLog{ID: fmt.Sprintf("log-%d", len(m.byKey)+1), AssetID: req.AssetID, PhotoURL: req.PhotoURL}
	if req.OperatorID != nil {
		stored.OperatorID = *req.OperatorID
	}
	m.byKey[key] = stored
	return stored, nil
}

func (m *mockLogService) UpdateAssetHours(_ context.Context, assetID string, hours float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hoursErr != nil {
		return m.hoursErr
	}
	m.hours[assetID] = hours
	return nil
}

func (m *mockLogService) UploadPhoto(_ context.Context, name, _ string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads = append(m.uploads, name)
	return "http://photos/" + name, nil
}

func (m *mockLogService) CurrentOperator(ctx context.Context) (*models.Operator, error) {
	if m.operatorHook != nil {
		if err := m.operatorHook(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operatorHit++
	if m.operatorErr != nil {
		return nil, m.operatorErr
	}
	return m.operator, nil
}

func (m *mockLogService) Ping(context.Context) error { return nil }

func (m *mockLogService) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func (m *mockLogService) uniqueLogs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// mockUploader records uploads and can fail on demand.
type mockUploader struct {
	mu      sync.Mutex
	err     error
	folders []string
	keys    []string
}

func (u *mockUploader) Upload(_ context.Context, folder, key string, photo *models.Photo) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.folders = append(u.folders, folder)
	u.keys = append(u.keys, key)
	return "https://cdn/" + folder + "/" + photo.Name, nil
}

// spyQueue counts calls to the wrapped queue.
type spyQueue struct {
	store.Queue
	mu    sync.Mutex
	calls int
}

func (s *spyQueue) touch() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *spyQueue) Add(ctx context.Context, l *models.PendingLog) error {
	s.touch()
	return s.Queue.Add(ctx, l)
}

func (s *spyQueue) ListPending(ctx context.Context) ([]*models.PendingLog, error) {
	s.touch()
	return s.Queue.ListPending(ctx)
}

func (s *spyQueue) Remove(ctx context.Context, id string) error {
	s.touch()
	return s.Queue.Remove(ctx, id)
}

// brokenQueue fails every write and listing with a storage error.
type brokenQueue struct {
	store.Queue
}

var errDiskFull = errors.New("disk full")

func (brokenQueue) Add(context.Context, *models.PendingLog) error {
	return fmt.Errorf("store pending log: %w: %w", store.ErrStorage, errDiskFull)
}

func (brokenQueue) ListPending(context.Context) ([]*models.PendingLog, error) {
	return nil, fmt.Errorf("list pending logs: %w: %w", store.ErrStorage, errDiskFull)
}

func (brokenQueue) Count(context.Context, bool) (int, error) {
	return 0, fmt.Errorf("count: %w", store.ErrStorage)
}

func pendingLog(id, assetID string) *models.PendingLog {
	return &models.PendingLog{
		ID:        id,
		AssetID:   assetID,
		Type:      models.SubmissionInspection,
		Answers:   []byte(`{"items":{"oil":"ok"}}`),
		CreatedAt: 1700000000000,
	}
}
