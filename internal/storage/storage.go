package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
)

const (
	// MaxDeleteBatch is the object store's limit on keys per bulk delete call
	MaxDeleteBatch = 1000

	// listPageSize is the number of keys requested per listing call
	listPageSize = 1000
)

var (
	// ErrObjectNotFound is returned when a key does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrUploadFailed is returned when a write is not acknowledged by the store
	ErrUploadFailed = errors.New("upload failed")

	// ErrEmptyPrefix guards bulk deletes against wiping the whole bucket
	ErrEmptyPrefix = errors.New("refusing to operate on an empty prefix")
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Page is one page of a prefix listing. An empty NextToken means the
// listing is exhausted.
type Page struct {
	Objects   []ObjectInfo
	NextToken string
}

// Backend is the minimal object store API the adapter is built on. Every
// call is a single round trip to the store.
type Backend interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	ListPage(ctx context.Context, prefix, token string, limit int) (Page, error)
	RemoveBatch(ctx context.Context, keys []string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (*url.URL, error)
}

// Storage provides object storage operations. It does not retry; callers
// own their retry policy.
type Storage struct {
	backend Backend
	logger  *logging.Logger
}

// New creates a storage client for the configured driver
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Driver {
	case "", "minio":
		backend, err = newMinioBackend(ctx, cfg)
	case "s3":
		backend, err = newS3Backend(ctx, cfg)
	case "memory":
		backend = NewMemoryBackend(cfg.BucketName)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return NewWithBackend(backend, logger), nil
}

// NewWithBackend wraps an existing backend
func NewWithBackend(backend Backend, logger *logging.Logger) *Storage {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Storage{
		backend: backend,
		logger:  logger.WithComponent("storage"),
	}
}

// Upload writes an object. Any failure is reported as ErrUploadFailed.
func (s *Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = getContentType(key)
	}

	start := time.Now()
	err := s.backend.PutObject(ctx, key, reader, size, contentType)
	s.observe("upload", key, size, start, err)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
	}

	return nil
}

// UploadBytes writes an in-memory object
func (s *Storage) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// UploadFile uploads a file from local filesystem
func (s *Storage) UploadFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	return s.Upload(ctx, key, file, info.Size(), getContentType(filePath))
}

// Get reads a whole object into memory
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	body, err := s.backend.GetObject(ctx, key)
	if err != nil {
		s.observe("get", key, 0, start, ignoreNotFound(err))
		return nil, wrapRead(key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	s.observe("get", key, int64(len(data)), start, err)
	if err != nil {
		return nil, wrapRead(key, err)
	}

	return data, nil
}

// DownloadFile downloads an object to local filesystem
func (s *Storage) DownloadFile(ctx context.Context, key, filePath string) error {
	start := time.Now()
	body, err := s.backend.GetObject(ctx, key)
	if err != nil {
		s.observe("download", key, 0, start, err)
		return wrapRead(key, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, body)
	s.observe("download", key, n, start, err)
	if err != nil {
		return wrapRead(key, err)
	}

	return nil
}

// Exists reports whether an object is present
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.StatObject(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return true, nil
}

// ListByPrefix lists every object under prefix, following pagination
func (s *Storage) ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var (
		objects []ObjectInfo
		token   string
	)

	start := time.Now()
	for {
		page, err := s.backend.ListPage(ctx, prefix, token, listPageSize)
		if err != nil {
			s.observe("list", prefix, 0, start, err)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		objects = append(objects, page.Objects...)

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	s.observe("list", prefix, 0, start, nil)

	return objects, nil
}

// DeleteByPrefix removes every object under prefix, issuing one bulk delete
// call per MaxDeleteBatch keys. It returns the number of keys removed.
func (s *Storage) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}

	objects, err := s.ListByPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}

	removed := 0
	for _, batch := range chunkKeys(keys, MaxDeleteBatch) {
		start := time.Now()
		err := s.backend.RemoveBatch(ctx, batch)
		s.observe("delete_batch", prefix, 0, start, err)
		if err != nil {
			return removed, fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}
		removed += len(batch)
	}

	return removed, nil
}

// PresignedURL returns a time-limited direct download URL for key
func (s *Storage) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.backend.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return u.String(), nil
}

// chunkKeys splits keys into consecutive slices of at most size elements
func chunkKeys(keys []string, size int) [][]string {
	var chunks [][]string
	for len(keys) > 0 {
		n := size
		if len(keys) < n {
			n = len(keys)
		}
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}

func (s *Storage) observe(operation, key string, size int64, start time.Time, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(operation, status, duration.Seconds(), size)
	s.logger.LogStorageOperation(operation, key, size, duration, err)
}

func wrapRead(key string, err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return fmt.Errorf("failed to read object %s: %w", key, err)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := filepath.Ext(filePath)
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
