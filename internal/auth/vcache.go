package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// VerificationCache mirrors in-flight verification records for fast reads.
// It is best-effort and disposable: a miss or a lost cache must only ever
// cause a fallback to the durable store, never an incorrect success.
type VerificationCache interface {
	Get(ctx context.Context, id string) (*VerificationRecord, error)
	Set(ctx context.Context, rec *VerificationRecord, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

const verificationKeyPrefix = "verification:"

func verificationKey(id string) string {
	return verificationKeyPrefix + id
}

// RedisVerificationCache stores JSON-encoded records with per-key TTLs.
type RedisVerificationCache struct {
	rdb *redis.Client
}

var _ VerificationCache = (*RedisVerificationCache)(nil)

func NewRedisVerificationCache(rdb *redis.Client) *RedisVerificationCache {
	return &RedisVerificationCache{rdb: rdb}
}

func (c *RedisVerificationCache) Get(ctx context.Context, id string) (*VerificationRecord, error) {
	data, err := c.rdb.Get(ctx, verificationKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var rec VerificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RedisVerificationCache) Set(ctx context.Context, rec *VerificationRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, verificationKey(rec.ID), payload, ttl).Err()
}

func (c *RedisVerificationCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, verificationKey(id)).Err()
}

// MemoryVerificationCache is an in-process implementation for tests.
type MemoryVerificationCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	rec       VerificationRecord
	expiresAt time.Time
}

var _ VerificationCache = (*MemoryVerificationCache)(nil)

func NewMemoryVerificationCache(now func() time.Time) *MemoryVerificationCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryVerificationCache{entries: make(map[string]memoryCacheEntry), now: now}
}

func (c *MemoryVerificationCache) Get(ctx context.Context, id string) (*VerificationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

func (c *MemoryVerificationCache) Set(ctx context.Context, rec *VerificationRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.ID] = memoryCacheEntry{rec: *rec, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryVerificationCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}
