package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/models"
)

// objectPutter is the subset of *s3.Client used here.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes photos to an AWS S3 bucket using the default
// credential chain.
type S3Uploader struct {
	client     objectPutter
	bucket     string
	publicBase string
}

// NewS3Uploader loads the AWS default config, overriding the region when set.
func NewS3Uploader(ctx context.Context, cfg config.UploadConfig) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := cfg.PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, awsCfg.Region)
	}
	return newS3Uploader(client, cfg.Bucket, base), nil
}

func newS3Uploader(client objectPutter, bucket, publicBase string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

// Upload puts the photo and returns publicBase/object.
func (u *S3Uploader) Upload(ctx context.Context, folder, key string, photo *models.Photo) (string, error) {
	if photo == nil || len(photo.Data) == 0 {
		return "", fmt.Errorf("upload photo: empty payload")
	}

	object := ObjectName(folder, key, photo.Name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(object),
		Body:          bytes.NewReader(photo.Data),
		ContentType:   aws.String(contentType(photo)),
		ContentLength: aws.Int64(int64(len(photo.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s to bucket %s: %w", object, u.bucket, err)
	}

	return u.publicBase + "/" + object, nil
}
