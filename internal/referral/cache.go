package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DownlineCache stores computed downline summaries.
type DownlineCache interface {
	Get(ctx context.Context, memberID uint64, depth int) (*Downline, bool)
	Set(ctx context.Context, d *Downline, ttl time.Duration)
	// Invalidate drops every cached summary.
	Invalidate(ctx context.Context) error
}

// RedisDownlineCache shares summaries between processes. Invalidation bumps a
// generation counter that is part of every key, so stale keys simply expire.
type RedisDownlineCache struct {
	client *redis.Client
	prefix string
}

// NewRedisDownlineCache constructs a cache over client using prefix for keys.
func NewRedisDownlineCache(client *redis.Client, prefix string) *RedisDownlineCache {
	return &RedisDownlineCache{client: client, prefix: prefix}
}

func (c *RedisDownlineCache) generationKey() string {
	return c.prefix + "downline:generation"
}

func (c *RedisDownlineCache) key(ctx context.Context, memberID uint64, depth int) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%sdownline:%d:%d:%d", c.prefix, gen, memberID, depth), nil
}

// Get returns a cached summary. Redis failures count as misses.
func (c *RedisDownlineCache) Get(ctx context.Context, memberID uint64, depth int) (*Downline, bool) {
	key, errKey := c.key(ctx, memberID, depth)
	if errKey != nil {
		return nil, false
	}
	raw, errGet := c.client.Get(ctx, key).Bytes()
	if errGet != nil {
		return nil, false
	}
	var d Downline
	if errUnmarshal := json.Unmarshal(raw, &d); errUnmarshal != nil {
		return nil, false
	}
	return &d, true
}

// Set stores a summary; failures are ignored.
func (c *RedisDownlineCache) Set(ctx context.Context, d *Downline, ttl time.Duration) {
	key, errKey := c.key(ctx, d.MemberID, d.Depth)
	if errKey != nil {
		return
	}
	raw, errMarshal := json.Marshal(d)
	if errMarshal != nil {
		return
	}
	_ = c.client.Set(ctx, key, raw, ttl).Err()
}

// Invalidate bumps the generation counter.
func (c *RedisDownlineCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

// memoryCacheMaxEntries bounds the in-process cache.
const memoryCacheMaxEntries = 10000

// MemoryDownlineCache is the in-process cache used without Redis.
type MemoryDownlineCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     *Downline
	expiresAt time.Time
}

// NewMemoryDownlineCache constructs an empty in-process cache.
func NewMemoryDownlineCache() *MemoryDownlineCache {
	return &MemoryDownlineCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func memoryKey(memberID uint64, depth int) string {
	return strconv.FormatUint(memberID, 10) + ":" + strconv.Itoa(depth)
}

// Get returns a cached summary that has not expired.
func (c *MemoryDownlineCache) Get(_ context.Context, memberID uint64, depth int) (*Downline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := memoryKey(memberID, depth)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a summary until ttl elapses. When the cache is full, expired
// entries are dropped first and the whole cache is reset if that is not enough.
func (c *MemoryDownlineCache) Set(_ context.Context, d *Downline, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	key := memoryKey(d.MemberID, d.Depth)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= memoryCacheMaxEntries {
		for k, entry := range c.entries {
			if !now.Before(entry.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= memoryCacheMaxEntries {
			c.entries = make(map[string]memoryEntry)
		}
	}
	c.entries[key] = memoryEntry{value: d, expiresAt: now.Add(ttl)}
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryDownlineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate drops every entry.
func (c *MemoryDownlineCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}
