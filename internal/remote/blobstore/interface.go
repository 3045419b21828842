// Package blobstore stores uploaded photos for the reference log service.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned when a requested photo does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidName is returned for object names that are empty or escape the store root.
var ErrInvalidName = errors.New("invalid object name")

// Info describes a stored photo.
type Info struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

// BlobStore defines the contract for named binary storage.
type BlobStore interface {
	// Has checks whether an object exists.
	Has(ctx context.Context, name string) (bool, error)

	// Get returns a reader for the object data and its metadata.
	// Returns ErrBlobNotFound if the object does not exist.
	Get(ctx context.Context, name string) (io.ReadCloser, *Info, error)

	// Put stores an object, replacing any previous content under the name.
	Put(ctx context.Context, name, contentType string, r io.Reader) (*Info, error)

	// TotalCount returns the number of stored objects.
	TotalCount(ctx context.Context) (int, error)
}
