// Package storage provides the S3-compatible object-store adapter used to
// persist Delta tables for data collections and join results. It supports
// MinIO and other custom endpoints, byte-range reads, and managed uploads
// for large payloads.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
)

// sharedHTTPClient provides connection pooling across all storage operations.
// Extended timeout covers large table reads; keep-alive connections are
// reused by concurrent scans and joins.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// ObjectStore is the narrow object storage contract consumed by the Delta
// layer and tests.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// S3Store implements ObjectStore against an S3-compatible endpoint.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store builds the S3 client from configuration. Custom endpoints
// (MinIO) use path-style addressing.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithHTTPClient(sharedHTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// EnsureBucket verifies the configured bucket exists, creating it when
// missing.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	common.Logger.Info("✅ Created bucket ", s.bucket)
	return nil
}

// PutObject uploads a payload through the upload manager, which handles
// multipart splitting for large tables.
func (s *S3Store) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to upload object to bucket %s: %w", s.bucket, err))
	}
	common.Logger.Debugf("Uploaded %s (%s)", key, humanize.Bytes(uint64(len(body))))
	return nil
}

// GetObject downloads a full object.
func (s *S3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.Errorf(common.ErrNotFound, key, "object not found in bucket %s", s.bucket)
		}
		return nil, common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to get object from bucket %s: %w", s.bucket, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to read object body: %w", err))
	}
	return data, nil
}

// GetObjectRange downloads the byte range [start, end] (inclusive, per the
// HTTP Range header convention).
func (s *S3Store) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to get object range from bucket %s: %w", s.bucket, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to read object range body: %w", err))
	}
	return data, nil
}

// DeleteObject removes one object; absence is not an error.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to delete object from bucket %s: %w", s.bucket, err))
	}
	return nil
}

// ListObjects returns the keys under a prefix.
func (s *S3Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, common.WrapError(common.ErrIO, prefix,
				fmt.Errorf("failed to list objects in bucket %s: %w", s.bucket, err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// ObjectExists checks object presence with a HEAD request.
func (s *S3Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, common.WrapError(common.ErrIO, key,
			fmt.Errorf("failed to check object in bucket %s: %w", s.bucket, err))
	}
	return true, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}
