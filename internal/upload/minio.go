package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/models"
)

// MinIOUploader writes photos to a MinIO (or any S3-compatible) bucket.
type MinIOUploader struct {
	client     *minio.Client
	bucket     string
	publicBase string

	mu      sync.Mutex
	ensured bool
}

// NewMinIOUploader connects to cfg.Endpoint with static credentials.
func NewMinIOUploader(cfg config.UploadConfig) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = client.EndpointURL().String()
	}

	return &MinIOUploader{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(base, "/"),
	}, nil
}

// ensureBucket creates the bucket on first use. A failed check is retried
// on the next upload.
func (u *MinIOUploader) ensureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ensured {
		return nil
	}

	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
	}
	u.ensured = true
	return nil
}

// Upload puts the photo and returns publicBase/bucket/object.
func (u *MinIOUploader) Upload(ctx context.Context, folder, key string, photo *models.Photo) (string, error) {
	if photo == nil || len(photo.Data) == 0 {
		return "", fmt.Errorf("upload photo: empty payload")
	}
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	name := ObjectName(folder, key, photo.Name)
	_, err := u.client.PutObject(ctx, u.bucket, name, bytes.NewReader(photo.Data), int64(len(photo.Data)), minio.PutObjectOptions{
		ContentType: contentType(photo),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", name, err)
	}

	return fmt.Sprintf("%s/%s/%s", u.publicBase, u.bucket, name), nil
}
