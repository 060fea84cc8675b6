// -----------------------------------------------------------------------
// Image Store
// S3/MinIO-backed storage for listing thumbnails
// -----------------------------------------------------------------------

package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ErrNotConfigured is returned by Store and Fetch when no object store
// endpoint is configured.
var ErrNotConfigured = errors.New("image store is not configured")

// S3Store persists listing images in an S3-compatible bucket. MinIO is
// the usual backend, hence path-style addressing by default.
type S3Store struct {
	client *s3.S3
	bucket string
	logger arbor.ILogger
}

var _ interfaces.ImageStore = (*S3Store)(nil)

// NewS3Store builds a store from the images config. An empty endpoint or
// bucket yields a disabled store rather than an error, so callers can
// wire the same object everywhere and gate on Enabled().
func NewS3Store(cfg *common.ImagesConfig, logger arbor.ILogger) (*S3Store, error) {
	store := &S3Store{logger: logger}

	if cfg == nil || cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return store, nil
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.S3Endpoint),
		Region:           aws.String(region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(cfg.S3UsePathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to image store: %w", err)
	}

	store.client = s3.New(sess)
	store.bucket = cfg.S3Bucket
	return store, nil
}

// Enabled reports whether an endpoint and bucket are configured.
func (s *S3Store) Enabled() bool {
	return s.client != nil
}

// EnsureBucket creates the bucket when it does not exist yet. No-op for a
// disabled store.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("creating image bucket %s: %w", s.bucket, err)
	}

	s.logger.Info().Str("bucket", s.bucket).Msg("Created image bucket")
	return nil
}

// Store uploads data under key and returns the stored key.
func (s *S3Store) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading image %s: %w", key, err)
	}

	return key, nil
}

// Fetch downloads the object at key.
func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading image %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", key, err)
	}

	return data, nil
}
