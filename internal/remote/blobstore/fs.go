package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// validSegment matches one path segment of an object name.
var validSegment = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

const metaSuffix = ".meta"

// FSStore implements BlobStore using the local filesystem. Object names map
// to relative paths under root; metadata sits next to each object.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// ValidName reports whether name is a storable object name.
func ValidName(name string) bool {
	if name == "" || len(name) > 512 || strings.HasSuffix(name, metaSuffix) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if !validSegment.MatchString(seg) {
			return false
		}
	}
	return true
}

// Has checks whether an object exists.
func (s *FSStore) Has(_ context.Context, name string) (bool, error) {
	if !ValidName(name) {
		return false, nil
	}
	_, err := os.Stat(s.blobPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", name, err)
	}
	return true, nil
}

// Get opens an object for reading.
func (s *FSStore) Get(_ context.Context, name string) (io.ReadCloser, *Info, error) {
	if !ValidName(name) {
		return nil, nil, ErrBlobNotFound
	}
	info, err := s.readInfo(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("read blob meta %s: %w", name, err)
	}

	f, err := os.Open(s.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, info, nil
}

// Put writes the object to a temp file and renames it into place, so readers
// never see a partial photo.
func (s *FSStore) Put(_ context.Context, name, contentType string, r io.Reader) (*Info, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	blobPath := s.blobPath(name)

	dir := filepath.Dir(blobPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, hasher), r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write blob data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename blob: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info := &Info{
		ContentType: contentType,
		Size:        n,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal blob meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(name), meta, 0644); err != nil {
		return nil, fmt.Errorf("write blob meta: %w", err)
	}
	return info, nil
}

// TotalCount returns the number of stored objects by scanning the directory tree.
func (s *FSStore) TotalCount(_ context.Context) (int, error) {
	var count int
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && !strings.HasSuffix(path, metaSuffix) && !strings.HasPrefix(info.Name(), ".") {
			count++
		}
		return nil
	})
	return count, err
}

func (s *FSStore) blobPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *FSStore) metaPath(name string) string {
	return s.blobPath(name) + metaSuffix
}

func (s *FSStore) readInfo(name string) (*Info, error) {
	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode blob meta: %w", err)
	}
	return &info, nil
}
