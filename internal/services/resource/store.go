package resource

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/deepgram/kbquery/internal/infrastructure/redis"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const blobKeyPrefix = "kbquery:blob:"

// ErrBlobNotFound is returned for unknown, released or expired blobs
var ErrBlobNotFound = errors.New("blob not found")

// Blob is the fetched body of a protected resource
type Blob struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
}

type BlobStore interface {
	Put(ctx context.Context, id string, blob *Blob, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Blob, error)
	Delete(ctx context.Context, id string) error
}

type RedisStore struct {
	redisService *redis.Service
}

type MemoryStore struct {
	cache *cache.Cache
}

// NewBlobStore prefers Redis when it is configured and answers, and keeps
// blobs in process memory otherwise.
func NewBlobStore(redisService *redis.Service, ttl time.Duration) BlobStore {
	if redisService != nil {
		if err := redisService.Ping(context.Background()); err != nil {
			log.Warn().
				Err(err).
				Msg("Redis unavailable - keeping blobs in memory")
			return NewMemoryStore(ttl)
		}
		return &RedisStore{redisService: redisService}
	}
	return NewMemoryStore(ttl)
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &MemoryStore{
		cache: cache.New(ttl, cleanup),
	}
}

// Redis Store implementation
func (rs *RedisStore) Put(ctx context.Context, id string, blob *Blob, ttl time.Duration) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return rs.redisService.Set(ctx, blobKeyPrefix+id, data, ttl)
}

func (rs *RedisStore) Get(ctx context.Context, id string) (*Blob, error) {
	data, err := rs.redisService.Get(ctx, blobKeyPrefix+id)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}

	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.redisService.Delete(ctx, blobKeyPrefix+id)
}

// Memory Store implementation
func (ms *MemoryStore) Put(ctx context.Context, id string, blob *Blob, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	ms.cache.Set(id, blob, ttl)
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id string) (*Blob, error) {
	if x, found := ms.cache.Get(id); found {
		return x.(*Blob), nil
	}
	return nil, ErrBlobNotFound
}

func (ms *MemoryStore) Delete(ctx context.Context, id string) error {
	ms.cache.Delete(id)
	return nil
}

// Len reports how many blobs are held, expired ones included until the next sweep
func (ms *MemoryStore) Len() int {
	return ms.cache.ItemCount()
}
