package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perimeterhq/perimeter/internal/metrics"
)

const redisCachePrefix = "respcache:"

// RedisResponseCache is the shared-store Cache. Every gateway instance sees
// the same entries, so a response cached by one instance serves requests
// hitting another. Expiry is delegated to Redis TTLs; there is no sweep.
type RedisResponseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Cache = (*RedisResponseCache)(nil)

// NewRedisResponseCache creates a cache over an existing client.
// Pass ttl=0 for the default.
func NewRedisResponseCache(rdb *redis.Client, ttl time.Duration) *RedisResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisResponseCache{rdb: rdb, ttl: ttl}
}

// cachedResponse is the wire form of a cache entry. Body round-trips
// through base64 via encoding/json.
type cachedResponse struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

// Get returns a cached response, or nil on miss. Redis errors degrade to a
// miss: the backend call is the fallback.
func (c *RedisResponseCache) Get(ctx context.Context, tenantID, method, path, rawQuery string) *ForwardResponse {
	if method != http.MethodGet {
		return nil
	}

	data, err := c.rdb.Get(ctx, redisCachePrefix+cacheKey(tenantID, method, path, rawQuery)).Bytes()
	if err != nil {
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil
	}

	var entry cachedResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil
	}

	metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
	return &ForwardResponse{
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		Body:       entry.Body,
	}
}

// Put stores a response. Only successful GET responses are cacheable.
// Write failures are ignored: the cache is an optimization, not a store
// of record.
func (c *RedisResponseCache) Put(ctx context.Context, tenantID, method, path, rawQuery string, resp *ForwardResponse) {
	if method != http.MethodGet || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	data, err := json.Marshal(cachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	})
	if err != nil {
		return
	}
	c.rdb.Set(ctx, redisCachePrefix+cacheKey(tenantID, method, path, rawQuery), data, c.ttl)
}

// InvalidateTenant drops every cached response for one tenant.
func (c *RedisResponseCache) InvalidateTenant(ctx context.Context, tenantID string) {
	pattern := redisCachePrefix + tenantID + ":*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
}
