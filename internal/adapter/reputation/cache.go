package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

func cacheKey(iocType domain.IOCType, value string) string {
	return fmt.Sprintf("%s:%s", iocType, strings.ToLower(value))
}

// MemoryCache is a process-local TTL cache for lookups.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	rep       domain.Reputation
	expiresAt time.Time
}

var _ ports.ReputationCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, iocType domain.IOCType, value string) (*domain.Reputation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cacheKey(iocType, value)]
	if !exists || c.now().After(entry.expiresAt) {
		return nil, false
	}
	rep := entry.rep
	return &rep, true
}

func (c *MemoryCache) Set(ctx context.Context, rep *domain.Reputation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(rep.Type, rep.Value)] = memoryEntry{
		rep:       *rep,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Cleanup removes expired entries (call periodically).
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// RedisCache shares lookups between API replicas. Redis errors are logged
// and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

var _ ports.ReputationCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func redisKey(iocType domain.IOCType, value string) string {
	return "ctiwatch:reputation:" + cacheKey(iocType, value)
}

func (c *RedisCache) Get(ctx context.Context, iocType domain.IOCType, value string) (*domain.Reputation, bool) {
	data, err := c.client.Get(ctx, redisKey(iocType, value)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("reputation cache read failed", zap.Error(err))
		return nil, false
	}

	var rep domain.Reputation
	if err := json.Unmarshal(data, &rep); err != nil {
		c.log.Warn("reputation cache entry corrupt", zap.String("value", value), zap.Error(err))
		return nil, false
	}
	return &rep, true
}

func (c *RedisCache) Set(ctx context.Context, rep *domain.Reputation) {
	data, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKey(rep.Type, rep.Value), data, c.ttl).Err(); err != nil {
		c.log.Warn("reputation cache write failed", zap.Error(err))
	}
}

// NewCache returns a Redis-backed cache when addr is set and reachable,
// otherwise an in-memory one.
func NewCache(ctx context.Context, addr, password string, db int, ttl time.Duration, log *zap.Logger) ports.ReputationCache {
	if log == nil {
		log = zap.NewNop()
	}
	if addr == "" {
		return NewMemoryCache(ttl)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, using in-memory reputation cache", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return NewMemoryCache(ttl)
	}
	return NewRedisCache(client, ttl, log)
}
