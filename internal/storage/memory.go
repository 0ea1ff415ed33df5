package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// MemoryBackend is a process-local Backend used by the memory driver and
// tests. It enforces the same bulk delete limit as S3.
type MemoryBackend struct {
	mu         sync.RWMutex
	bucketName string
	objects    map[string]memoryObject
	now        func() time.Time
	putHook    func(key string) error
	batchCalls int
}

// NewMemoryBackend creates an empty in-memory bucket
func NewMemoryBackend(bucketName string) *MemoryBackend {
	if bucketName == "" {
		bucketName = "memory"
	}
	return &MemoryBackend{
		bucketName: bucketName,
		objects:    make(map[string]memoryObject),
		now:        time.Now,
	}
}

// SetPutHook installs a function consulted before every write; a non-nil
// return fails the write.
func (m *MemoryBackend) SetPutHook(hook func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putHook = hook
}

// SetModTime overrides the last-modified time of a stored object
func (m *MemoryBackend) SetModTime(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.lastModified = t
		m.objects[key] = obj
	}
}

// BatchCalls returns how many bulk delete calls have been made
func (m *MemoryBackend) BatchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCalls
}

// Len returns the number of stored objects
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ContentType returns the stored content type of key
func (m *MemoryBackend) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

func (m *MemoryBackend) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	hook := m.putHook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("short write: got %d bytes, expected %d", len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		data:         data,
		contentType:  contentType,
		lastModified: m.now(),
	}
	return nil
}

func (m *MemoryBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (m *MemoryBackend) ListPage(ctx context.Context, prefix, token string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) && key > token {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var page Page
	for _, key := range keys {
		obj := m.objects[key]
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
		if len(page.Objects) == limit {
			if len(keys) > limit {
				page.NextToken = key
			}
			break
		}
	}

	return page, nil
}

func (m *MemoryBackend) RemoveBatch(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) > MaxDeleteBatch {
		return fmt.Errorf("batch of %d keys exceeds limit of %d", len(keys), MaxDeleteBatch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *MemoryBackend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*url.URL, error) {
	u := &url.URL{
		Scheme: "http",
		Host:   "memory.local",
		Path:   "/" + m.bucketName + "/" + key,
	}
	q := url.Values{}
	q.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	u.RawQuery = q.Encode()
	return u, nil
}
