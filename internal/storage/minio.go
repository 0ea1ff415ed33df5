package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
)

const (
	// Part size for multipart uploads (10MB)
	defaultPartSize = 10 * 1024 * 1024

	// Maximum number of concurrent parts
	maxConcurrentParts = 4
)

// minioBackend talks to MinIO or any S3-compatible endpoint via minio-go
type minioBackend struct {
	client     *minio.Client
	bucketName string
}

func newMinioBackend(ctx context.Context, cfg config.StorageConfig) (*minioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &minioBackend{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

func (b *minioBackend) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}

	// Sources and unknown-length streams go up as parallel multipart uploads
	if size < 0 || size > defaultPartSize {
		opts.PartSize = defaultPartSize
		opts.NumThreads = maxConcurrentParts
	}

	_, err := b.client.PutObject(ctx, b.bucketName, key, r, size, opts)
	return err
}

func (b *minioBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, b.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}

	// GetObject is lazy; stat forces the request so a missing key surfaces here
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, translateMinioError(err)
	}

	return object, nil
}

func (b *minioBackend) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

func (b *minioBackend) ListPage(ctx context.Context, prefix, token string, limit int) (Page, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := b.client.ListObjects(ctx, b.bucketName, minio.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: token,
		MaxKeys:    limit,
		Recursive:  true,
	})

	var page Page
	for object := range objectCh {
		if object.Err != nil {
			return Page{}, object.Err
		}

		page.Objects = append(page.Objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})

		if len(page.Objects) == limit {
			page.NextToken = object.Key
			break
		}
	}

	return page, nil
}

func (b *minioBackend) RemoveBatch(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	var errs []error
	for rErr := range b.client.RemoveObjects(ctx, b.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rErr.ObjectName, rErr.Err))
		}
	}

	return errors.Join(errs...)
}

func (b *minioBackend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*url.URL, error) {
	return b.client.PresignedGetObject(ctx, b.bucketName, key, ttl, nil)
}

func translateMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return ErrObjectNotFound
	}
	return err
}
