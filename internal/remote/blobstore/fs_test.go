package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

const photoName = "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f/1700000000000_motor.jpg"

func TestFSStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("jpeg bytes")
	info, err := s.Put(ctx, photoName, "image/jpeg", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, hashBytes(data), info.SHA256)

	reader, got, err := s.Get(ctx, photoName)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "image/jpeg", got.ContentType)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, body)
}

func TestFSStore_DefaultContentType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	info, err := s.Put(ctx, "a/b.bin", "", bytes.NewReader([]byte{1}))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", info.ContentType)
}

func TestFSStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, photoName, "image/jpeg", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)
	_, err = s.Put(ctx, photoName, "image/png", bytes.NewReader([]byte("v2")))
	require.NoError(t, err)

	reader, info, err := s.Get(ctx, photoName)
	require.NoError(t, err)
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	assert.Equal(t, "v2", string(body))
	assert.Equal(t, "image/png", info.ContentType)
}

func TestFSStore_Has(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.Has(ctx, photoName)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Put(ctx, photoName, "image/jpeg", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	has, err = s.Has(ctx, photoName)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFSStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get(context.Background(), "missing/photo.jpg")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFSStore(filepath.Join(root, "blobs"))
	require.NoError(t, err)

	for _, name := range []string{"", "../outside.jpg", "a/../../b.jpg", "/abs.jpg", "a//b.jpg", ".hidden", "a/b.jpg.meta"} {
		_, err := s.Put(ctx, name, "image/jpeg", bytes.NewReader([]byte("x")))
		assert.ErrorIs(t, err, ErrInvalidName, name)

		_, _, err = s.Get(ctx, name)
		assert.ErrorIs(t, err, ErrBlobNotFound, name)
	}

	_, err = os.Stat(filepath.Join(root, "outside.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSStore_TotalCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	count, err := s.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for _, name := range []string{"a/1.jpg", "a/2.jpg", "b/1.jpg"} {
		_, err := s.Put(ctx, name, "image/jpeg", bytes.NewReader([]byte(name)))
		require.NoError(t, err)
	}

	count, err = s.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
