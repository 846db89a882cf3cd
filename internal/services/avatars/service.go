// Package avatars wraps the object store that backs presence avatars and
// document banners.
package avatars

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const presignTTL = 15 * time.Minute

// Service stores avatar and banner objects in a MinIO bucket and hands
// out presigned GET URLs for presence payloads.
type Service struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("avatars: initialize minio client: %w", err)
	}

	svc := &Service{client: client, bucket: opts.Bucket, logger: logger}
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("avatars: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("avatars: create bucket: %w", err)
	}
	s.logger.Info("created object bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload stores an object and returns its path inside the bucket.
func (s *Service) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("avatars: upload %s: %w", objectPath, err)
	}
	s.logger.Info("object uploaded",
		zap.String("bucket", s.bucket),
		zap.String("object", objectPath),
		zap.Int64("size", size))
	return objectPath, nil
}

// ResolveURL returns a time-limited GET URL for a stored object.
func (s *Service) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("avatars: presign %s: %w", objectPath, err)
	}
	return url.String(), nil
}
