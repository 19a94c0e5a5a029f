package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-price-harvester/models"
)

// MemoryStore keeps entries in a bounded in-process LRU.
type MemoryStore struct {
	entries *lru.Cache[string, models.CacheEntry]
}

// NewMemoryStore returns a MemoryStore holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[string, models.CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

// Load returns the entry for key if present.
func (m *MemoryStore) Load(_ context.Context, key string) (models.CacheEntry, bool, error) {
	entry, ok := m.entries.Get(key)
	return entry, ok, nil
}

// Save replaces the entry for entry.Key. Expiry is left to ResponseCache.
func (m *MemoryStore) Save(_ context.Context, entry models.CacheEntry, _ time.Duration) error {
	m.entries.Add(entry.Key, entry)
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}

const redisKeyPrefix = "harvest:page:"

// RedisStore shares entries across processes through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Load fetches and decodes the entry for key.
func (r *RedisStore) Load(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+digest(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Key != key {
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Save encodes entry and stores it with a Redis-side expiry of ttl.
func (r *RedisStore) Save(ctx context.Context, entry models.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+digest(entry.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
