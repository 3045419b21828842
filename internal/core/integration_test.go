package core

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/remote/blobstore"
	"github.com/sentinelops/fleetsync/internal/remote/metastore"
	"github.com/sentinelops/fleetsync/internal/remote/server"
	"github.com/sentinelops/fleetsync/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startReferenceServer runs the reference log service with the demo assets.
func startReferenceServer(t *testing.T, mutate ...func(*server.ServerConfig)) (*httptest.Server, metastore.MetaStore, string) {
	t.Helper()
	dir := t.TempDir()

	meta, err := metastore.NewBboltStore(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	_, err = server.Seed(context.Background(), meta)
	require.NoError(t, err)

	blobs, err := blobstore.NewFSStore(filepath.Join(dir, "photos"))
	require.NoError(t, err)

	tokens := server.NewFileTokenStore(filepath.Join(dir, "tokens.json"), discardLogger())
	raw, _, err := tokens.CreateToken("test", models.Operator{ID: opID, Name: "Ana Quispe"})
	require.NoError(t, err)

	cfg := server.DefaultServerConfig()
	for _, m := range mutate {
		m(cfg)
	}
	h, cleanup := server.Handler(meta, blobs, tokens, cfg, discardLogger())
	t.Cleanup(cleanup)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, meta, raw
}

func TestEndToEnd_OfflineSubmissionsDrainToServer(t *testing.T) {
	ctx := context.Background()
	ts, meta, token := startReferenceServer(t)

	svc := remote.NewRetryClient(remote.NewHTTPClient(ts.URL, token), &remote.RetryConfig{MaxRetries: 0})
	up := upload.NewHTTPUploader(svc)
	st := newTestStore(t)
	sig := NewSignal(false)

	router := NewRouter(st, svc, up, sig, discardLogger())
	excavator := server.AssetID("MIN-EXC-001")

	withPhoto := &models.Submission{
		AssetID: excavator,
		Type:    models.SubmissionInspection,
		Data:    json.RawMessage(`{"items":{"horometer":"1320"}}`),
		Photo:   &models.Photo{Name: "motor.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")},
	}
	for _, sub := range []*models.Submission{
		withPhoto,
		{AssetID: "MIN-EXC-001", Data: json.RawMessage(`{}`)},
		{AssetID: "0f8fad5b-d9cb-469f-a165-70867728950e", Data: json.RawMessage(`{}`)},
		{AssetID: server.AssetID("MIN-PERF-002"), Data: json.RawMessage(`{}`)},
	} {
		res, err := router.Submit(ctx, sub)
		require.NoError(t, err)
		require.True(t, res.Queued)
	}

	sig.Set(true)
	engine := NewEngine(st, svc, up, sig, EngineOptions{Logger: discardLogger()})
	result, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 2, result.Evicted, "non-uuid id and unknown asset")

	n, err := st.Count(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	logs, err := meta.ListLogsByAsset(ctx, excavator, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, opID, logs[0].OperatorID)
	assert.Contains(t, logs[0].PhotoURL, "/photos/"+excavator+"/")
	assert.Equal(t, 1320.0, logs[0].HoursReading)

	asset, err := meta.GetAsset(ctx, excavator)
	require.NoError(t, err)
	assert.Equal(t, 1320.0, asset.CurrentHours)

	again, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.True(t, again.Empty())
}

func TestEndToEnd_ReplayAfterLostRemoval(t *testing.T) {
	ctx := context.Background()
	ts, meta, token := startReferenceServer(t)
	svc := remote.NewHTTPClient(ts.URL, token)
	excavator := server.AssetID("MIN-EXC-001")

	// The first delivery succeeded remotely but the local removal was lost.
	rec := pendingLog("crash-1", excavator)
	_, err := svc.SubmitLog(ctx, &remote.SubmitLogRequest{AssetID: excavator, Type: rec.Type}, rec.ID)
	require.NoError(t, err)

	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, rec))

	result, err := NewEngine(st, svc, upload.NewHTTPUploader(svc), NewSignal(true), EngineOptions{Logger: discardLogger()}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	count, err := meta.LogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "idempotency key collapses the duplicate")
}

func TestEndToEnd_RejectedRecordsAreEvicted(t *testing.T) {
	ctx := context.Background()
	ts, meta, token := startReferenceServer(t, func(c *server.ServerConfig) { c.MaxRequestBody = 4 << 10 })
	svc := remote.NewHTTPClient(ts.URL, token)
	excavator := server.AssetID("MIN-EXC-001")

	// Records written before the router checked them.
	negative := pendingLog("negative-hours", excavator)
	negative.HoursReading = -5
	huge := pendingLog("huge-answers", excavator)
	huge.Answers = json.RawMessage(`{"notes":"` + strings.Repeat("x", 8<<10) + `"}`)
	good := pendingLog("good", excavator)

	st := newTestStore(t)
	for _, rec := range []*models.PendingLog{negative, huge, good} {
		require.NoError(t, st.Add(ctx, rec))
	}

	engine := NewEngine(st, svc, upload.NewHTTPUploader(svc), NewSignal(true), EngineOptions{Logger: discardLogger()})
	result, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 2, result.Evicted)
	assert.Zero(t, result.Retained)

	n, err := st.Count(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := meta.LogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	again, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.True(t, again.Empty())
}
