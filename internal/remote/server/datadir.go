package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sentinelops/fleetsync/internal/remote/blobstore"
	"github.com/sentinelops/fleetsync/internal/remote/metastore"
)

// Layout of a server data directory.
const (
	MetaFile   = "meta.db"
	PhotosDir  = "photos"
	TokensFile = "tokens.json"
)

// DataDir bundles the stores kept under one server data directory.
type DataDir struct {
	Path   string
	Meta   metastore.MetaStore
	Blobs  blobstore.BlobStore
	Tokens *FileTokenStore
}

// OpenDataDir creates dir if needed and opens its metadata, photo and
// token stores. A missing token file is not an error.
func OpenDataDir(dir string, logger *slog.Logger) (*DataDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	meta, err := metastore.NewBboltStore(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}

	blobs, err := blobstore.NewFSStore(filepath.Join(dir, PhotosDir))
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("open photo store: %w", err)
	}

	tokens := NewFileTokenStore(filepath.Join(dir, TokensFile), logger)
	if err := tokens.Load(); err != nil {
		if !os.IsNotExist(err) {
			meta.Close()
			return nil, err
		}
		logger.Warn("no token store found, starting empty", "path", filepath.Join(dir, TokensFile))
	}

	photos, err := blobs.TotalCount(context.Background())
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("scan photo store: %w", err)
	}
	logs, err := meta.LogCount(context.Background())
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("count logs: %w", err)
	}
	logger.Info("data directory opened", "path", dir, "logs", logs, "photos", photos)

	return &DataDir{Path: dir, Meta: meta, Blobs: blobs, Tokens: tokens}, nil
}

// Close closes the metadata store.
func (d *DataDir) Close() error {
	return d.Meta.Close()
}

// WebhooksFromList builds a notifier from a comma-separated URL list.
// Returns nil when the list holds no URL.
func WebhooksFromList(list string, logger *slog.Logger) *WebhookNotifier {
	var urls []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return NewWebhookNotifier(&WebhookConfig{URLs: urls}, logger)
}
