package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAssetID = "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f"

func strPtr(s string) *string { return &s }

func TestHTTPClient_SubmitLog(t *testing.T) {
	var got SubmitLogRequest
	var gotKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/logs", r.URL.Path)
		gotKey = r.Header.Get(IdempotencyHeader)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.StoredLog{ID: "log-1", AssetID: got.AssetID, HoursReading: got.HoursReading})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret")
	stored, err := c.SubmitLog(context.Background(), &SubmitLogRequest{
		AssetID:      testAssetID,
		OperatorID:   strPtr("0f8fad5b-d9cb-469f-a165-70867728950e"),
		Type:         models.SubmissionInspection,
		HoursReading: 1250,
		CreatedAt:    time.UnixMilli(1700000000000),
	}, "pending-1")
	require.NoError(t, err)

	assert.Equal(t, "log-1", stored.ID)
	assert.Equal(t, "pending-1", gotKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.NotNil(t, got.OperatorID)
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", *got.OperatorID)
	assert.Equal(t, 1250.0, got.HoursReading)
}

func TestHTTPClient_SubmitLog_NonUUIDOperatorSentAsNull(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"log-2"}`))
	}))
	defer srv.Close()

	req := &SubmitLogRequest{AssetID: testAssetID, OperatorID: strPtr("demo-user"), Type: models.SubmissionInspection}
	_, err := NewHTTPClient(srv.URL, "").SubmitLog(context.Background(), req, "k")
	require.NoError(t, err)

	v, ok := raw["operator_id"]
	assert.True(t, ok)
	assert.Nil(t, v)
	// The caller's request is left untouched.
	assert.Equal(t, "demo-user", *req.OperatorID)
}

func TestHTTPClient_SubmitLog_InvalidAssetNoRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "").SubmitLog(context.Background(), &SubmitLogRequest{AssetID: "EXC-001"}, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidReference))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestHTTPClient_DecodesRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{Error: CodeReferenceNotFound, Message: "asset does not exist"})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "").SubmitLog(context.Background(), &SubmitLogRequest{AssetID: testAssetID}, "k")
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Equal(t, CodeReferenceNotFound, re.Code)
	assert.True(t, HasCode(err, CodeInvalidReference, CodeReferenceNotFound))
	assert.False(t, HasCode(err, CodeBadRequest))
}

func TestHTTPClient_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "").UpdateAssetHours(context.Background(), testAssetID, 10)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "unknown", re.Code)
	assert.Equal(t, http.StatusBadGateway, re.Status)
}

func TestHTTPClient_UpdateAssetHours(t *testing.T) {
	var body HoursUpdateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/assets/"+testAssetID+"/hours", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPClient(srv.URL, "").UpdateAssetHours(context.Background(), testAssetID, 1300.5))
	assert.Equal(t, 1300.5, body.Hours)
}

func TestHTTPClient_UploadPhoto(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(PhotoUploadResponse{URL: "http://photos/" + testAssetID + "/1_a.jpg"})
	}))
	defer srv.Close()

	url, err := NewHTTPClient(srv.URL, "").UploadPhoto(context.Background(), testAssetID+"/1_a.jpg", "image/jpeg", []byte("jpegdata"))
	require.NoError(t, err)
	assert.Equal(t, "http://photos/"+testAssetID+"/1_a.jpg", url)
	assert.Equal(t, "/api/v1/photos/"+testAssetID+"/1_a.jpg", gotPath)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, []byte("jpegdata"), gotBody)
}

func TestHTTPClient_CurrentOperatorAndPing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Operator{ID: "op-1", Name: "Ana"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "t")
	op, err := c.CurrentOperator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-1", op.ID)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestHTTPClient_PingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.Error(t, NewHTTPClient(url, "").Ping(context.Background()))
}

func TestHTTPClient_Assets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Asset{{ID: testAssetID, Name: "Excavadora Cat 395"}})
	})
	mux.HandleFunc("POST /api/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		var req CreateAssetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Asset{ID: testAssetID, Name: req.Name, InternalID: req.InternalID})
	})
	mux.HandleFunc("GET /api/v1/assets/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.StoredLog{{ID: "l1", AssetID: r.PathValue("id")}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	ctx := context.Background()

	assets, err := c.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "Excavadora Cat 395", assets[0].Name)

	created, err := c.CreateAsset(ctx, &CreateAssetRequest{Name: "Tractor", InternalID: "AGRO-TRAC-045"})
	require.NoError(t, err)
	assert.Equal(t, "AGRO-TRAC-045", created.InternalID)

	logs, err := c.ListAssetLogs(ctx, testAssetID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, testAssetID, logs[0].AssetID)
}

func TestIsUUID(t *testing.T) {
	assert.True(t, IsUUID(testAssetID))
	assert.True(t, IsUUID("6F1C2A4E-8D3B-4C5A-9E7F-0A1B2C3D4E5F"))
	assert.False(t, IsUUID(""))
	assert.False(t, IsUUID("MIN-EXC-001"))
	assert.False(t, IsUUID("{"+testAssetID+"}"))
	assert.False(t, IsUUID("urn:uuid:"+testAssetID))
}
