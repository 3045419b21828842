package metastore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const excavatorID = "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f"

func newTestStore(t *testing.T) *BboltStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test-meta.db")
	s, err := NewBboltStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAsset(t *testing.T, s *BboltStore) {
	t.Helper()
	require.NoError(t, s.CreateAsset(context.Background(), &models.Asset{
		ID:           excavatorID,
		Name:         "Excavadora CAT 320",
		InternalID:   "EXC-001",
		Category:     "excavator",
		CurrentHours: 1250,
	}))
}

func newLog(id string, at time.Time) *models.StoredLog {
	return &models.StoredLog{
		ID:        id,
		AssetID:   excavatorID,
		Type:      models.SubmissionInspection,
		CreatedAt: at,
	}
}

func TestBboltStore_CreateAndGetAsset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetAsset(ctx, excavatorID)
	assert.ErrorIs(t, err, ErrNotFound)

	seedAsset(t, s)
	got, err := s.GetAsset(ctx, excavatorID)
	require.NoError(t, err)
	assert.Equal(t, "EXC-001", got.InternalID)
	assert.Equal(t, models.AssetActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateAsset(ctx, &models.Asset{ID: excavatorID, Name: "dup", InternalID: "X"})
	assert.ErrorIs(t, err, ErrConflict)

	assert.Error(t, s.CreateAsset(ctx, &models.Asset{Name: "no id"}))
}

func TestBboltStore_ListAssetsSorted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, internal := range []string{"TRK-002", "EXC-001", "LDR-003"} {
		require.NoError(t, s.CreateAsset(ctx, &models.Asset{
			ID:         fmt.Sprintf("00000000-0000-4000-8000-00000000000%d", i),
			Name:       internal,
			InternalID: internal,
		}))
	}

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "EXC-001", assets[0].InternalID)
	assert.Equal(t, "LDR-003", assets[1].InternalID)
	assert.Equal(t, "TRK-002", assets[2].InternalID)
}

func TestBboltStore_UpdateAssetHours(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpdateAssetHours(ctx, excavatorID, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	seedAsset(t, s)
	updated, err := s.UpdateAssetHours(ctx, excavatorID, 1320)
	require.NoError(t, err)
	assert.Equal(t, 1320.0, updated.CurrentHours)

	got, err := s.GetAsset(ctx, excavatorID)
	require.NoError(t, err)
	assert.Equal(t, 1320.0, got.CurrentHours)
}

func TestBboltStore_InsertLogIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s)

	first, created, err := s.InsertLog(ctx, newLog("log-1", time.Now()), "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "log-1", first.ID)

	// A retry with the same key gets the earlier log, even under a new log id.
	replay, created, err := s.InsertLog(ctx, newLog("log-2", time.Now()), "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "log-1", replay.ID)

	n, err := s.LogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBboltStore_InsertLogWithoutKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s)

	_, created, err := s.InsertLog(ctx, newLog("log-1", time.Now()), "")
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.InsertLog(ctx, newLog("log-2", time.Now()), "")
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = s.InsertLog(ctx, newLog("log-1", time.Now()), "")
	assert.ErrorIs(t, err, ErrConflict)

	n, err := s.LogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBboltStore_InsertLogUnknownAsset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.InsertLog(ctx, newLog("log-1", time.Now()), "key-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The key was not consumed by the failed insert.
	seedAsset(t, s)
	_, created, err := s.InsertLog(ctx, newLog("log-1", time.Now()), "key-1")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestBboltStore_ListLogsByAssetNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s)

	other := "0f8fad5b-d9cb-469f-a165-70867728950e"
	require.NoError(t, s.CreateAsset(ctx, &models.Asset{ID: other, Name: "Cargador", InternalID: "LDR-001"}))

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, _, err := s.InsertLog(ctx, newLog(fmt.Sprintf("log-%d", i), base.Add(time.Duration(i)*time.Hour)), "")
		require.NoError(t, err)
	}
	otherLog := newLog("other", base.Add(10*time.Hour))
	otherLog.AssetID = other
	_, _, err := s.InsertLog(ctx, otherLog, "")
	require.NoError(t, err)

	logs, err := s.ListLogsByAsset(ctx, excavatorID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, "log-1", logs[1].ID)
	assert.Equal(t, "log-0", logs[2].ID)

	limited, err := s.ListLogsByAsset(ctx, excavatorID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "log-2", limited[0].ID)

	logs, err = s.ListLogsByAsset(ctx, other, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "other", logs[0].ID)

	_, err = s.ListLogsByAsset(ctx, "00000000-0000-4000-8000-000000000000", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBboltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "meta.db")

	s, err := NewBboltStore(dbPath)
	require.NoError(t, err)
	seedAsset(t, s)
	_, _, err = s.InsertLog(ctx, newLog("log-1", time.Now()), "key-1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBboltStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, created, err := s.InsertLog(ctx, newLog("log-9", time.Now()), "key-1")
	require.NoError(t, err)
	assert.False(t, created)
}
