package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces blob keys in Redis.
const DefaultKeyPrefix = "ingest:blob:"

// RedisStore stores blobs as Redis strings.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis backed store. ttl 0 keeps blobs until deleted.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
	}
}

// Open returns the handle for path.
func (s *RedisStore) Open(path string) Handle {
	return &redisHandle{store: s, path: path}
}

type redisHandle struct {
	store *RedisStore
	path  string
}

func (h *redisHandle) key() string {
	return h.store.prefix + h.path
}

func (h *redisHandle) Path() string {
	return h.path
}

func (h *redisHandle) Exists(ctx context.Context) (bool, error) {
	BlobOperations.WithLabelValues("exists").Inc()

	n, err := h.store.redis.Exists(ctx, h.key()).Result()
	if err != nil {
		BlobErrors.WithLabelValues("exists").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (h *redisHandle) Get(ctx context.Context) (io.ReadCloser, error) {
	BlobOperations.WithLabelValues("get").Inc()

	data, err := h.store.redis.Get(ctx, h.key()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h.path)
		}
		BlobErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (h *redisHandle) Put(ctx context.Context, r io.Reader) (int64, error) {
	BlobOperations.WithLabelValues("put").Inc()

	data, err := io.ReadAll(r)
	if err != nil {
		BlobErrors.WithLabelValues("put").Inc()
		return 0, fmt.Errorf("read blob content: %w", err)
	}

	if err := h.store.redis.Set(ctx, h.key(), data, h.store.ttl).Err(); err != nil {
		BlobErrors.WithLabelValues("put").Inc()
		return 0, fmt.Errorf("redis set: %w", err)
	}

	BlobBytesWritten.Add(float64(len(data)))
	return int64(len(data)), nil
}

func (h *redisHandle) Delete(ctx context.Context) error {
	BlobOperations.WithLabelValues("delete").Inc()

	if err := h.store.redis.Del(ctx, h.key()).Err(); err != nil {
		BlobErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
