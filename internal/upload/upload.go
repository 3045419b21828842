// Package upload stores inspection photos and returns the URL the log
// service records for them.
package upload

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
)

// Backend kinds accepted in [upload] kind.
const (
	KindHTTP  = "http"
	KindMinIO = "minio"
	KindS3    = "s3"
)

// Uploader stores a photo under folder and returns its public URL. key
// identifies the owning record; uploading the same key again overwrites
// the earlier object instead of adding one.
type Uploader interface {
	Upload(ctx context.Context, folder, key string, photo *models.Photo) (string, error)
}

var (
	unsafeChars    = regexp.MustCompile(`(?i)[^a-z0-9.]`)
	unsafeKeyChars = regexp.MustCompile(`(?i)[^a-z0-9-]`)
)

// ObjectName builds "<folder>/<key>_<sanitized name>". Every character of
// name outside [a-z0-9.] (case-insensitive) becomes '_'.
func ObjectName(folder, key, name string) string {
	if name == "" {
		name = "photo"
	}
	return fmt.Sprintf("%s/%s_%s", strings.Trim(folder, "/"),
		unsafeKeyChars.ReplaceAllString(key, "_"), unsafeChars.ReplaceAllString(name, "_"))
}

func contentType(p *models.Photo) string {
	if p.ContentType != "" {
		return p.ContentType
	}
	return "application/octet-stream"
}

// HTTPUploader uploads through the log service's own photo endpoint.
type HTTPUploader struct {
	svc remote.LogService
}

// NewHTTPUploader creates an uploader backed by svc.
func NewHTTPUploader(svc remote.LogService) *HTTPUploader {
	return &HTTPUploader{svc: svc}
}

// Upload sends the photo bytes to the log service.
func (u *HTTPUploader) Upload(ctx context.Context, folder, key string, photo *models.Photo) (string, error) {
	if photo == nil || len(photo.Data) == 0 {
		return "", fmt.Errorf("upload photo: empty payload")
	}
	name := ObjectName(folder, key, photo.Name)
	url, err := u.svc.UploadPhoto(ctx, name, contentType(photo), photo.Data)
	if err != nil {
		return "", fmt.Errorf("upload photo %s: %w", name, err)
	}
	return url, nil
}

// New builds the uploader selected by cfg. svc is used by the http kind.
func New(ctx context.Context, cfg config.UploadConfig, svc remote.LogService) (Uploader, error) {
	switch cfg.Kind {
	case "", KindHTTP:
		return NewHTTPUploader(svc), nil
	case KindMinIO:
		return NewMinIOUploader(cfg)
	case KindS3:
		return NewS3Uploader(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown upload kind %q", cfg.Kind)
	}
}
