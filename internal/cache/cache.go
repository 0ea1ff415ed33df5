package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// Cache provides caching functionality using Redis. It holds the latest
// status of each job so status reads avoid the database.
type Cache struct {
	client *redis.Client
	jobTTL time.Duration
}

// NewCache creates a new cache instance
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.JobTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Cache{client: client, jobTTL: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func contentJobsKey(contentID string) string {
	return fmt.Sprintf("content:%s:jobs", contentID)
}

// SetJob caches job status and indexes it under its content id
func (c *Cache) SetJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, c.jobTTL)
	pipe.SAdd(ctx, contentJobsKey(job.ContentID), job.ID)
	pipe.Expire(ctx, contentJobsKey(job.ContentID), c.jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache job: %w", err)
	}

	return nil
}

// SetJobIfAbsent caches job only when no copy is cached yet, so a stale
// database read never replaces a fresher entry written by a worker
func (c *Cache) SetJobIfAbsent(ctx context.Context, job *models.Job) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	stored, err := c.client.SetNX(ctx, jobKey(job.ID), data, c.jobTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to cache job: %w", err)
	}
	if !stored {
		return false, nil
	}

	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, contentJobsKey(job.ContentID), job.ID)
	pipe.Expire(ctx, contentJobsKey(job.ContentID), c.jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("failed to index cached job: %w", err)
	}

	return true, nil
}

// GetJob retrieves job status from cache. A miss returns nil, nil.
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("job", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}
	metrics.RecordCacheAccess("job", true)

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// DeleteContentJobs removes every cached job of a content id
func (c *Cache) DeleteContentJobs(ctx context.Context, contentID string) error {
	ids, err := c.client.SMembers(ctx, contentJobsKey(contentID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached jobs: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, jobKey(id))
	}
	keys = append(keys, contentJobsKey(contentID))

	return c.client.Del(ctx, keys...).Err()
}

// Locking Operations for Distributed Systems

// releaseScript deletes a lock only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func lockKey(resource string) string {
	return fmt.Sprintf("lock:%s", resource)
}

// AcquireLock attempts to acquire a distributed lock. The returned token
// identifies this holder and must be passed to ReleaseLock.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	acquired, err := c.client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it. A lock
// that expired and was taken by another holder is left in place.
func (c *Cache) ReleaseLock(ctx context.Context, resource, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.client, []string{lockKey(resource)}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
