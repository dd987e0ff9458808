package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/perimeterhq/perimeter/internal/metrics"
)

// Cache stores successful GET responses per tenant. Implementations are the
// in-process ResponseCache and the Redis-backed RedisResponseCache shared by
// all gateway instances.
type Cache interface {
	Get(ctx context.Context, tenantID, method, path, rawQuery string) *ForwardResponse
	Put(ctx context.Context, tenantID, method, path, rawQuery string, resp *ForwardResponse)
	InvalidateTenant(ctx context.Context, tenantID string)
}

// ResponseCache caches successful GET responses per tenant. Entries are
// evicted lazily on read and by a periodic sweep.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stop    chan struct{}

	nowFunc func() time.Time // test hook
}

type cacheEntry struct {
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

// NewResponseCache creates a cache. Pass ttl=0 for the default.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		nowFunc: time.Now,
	}
	go c.sweep()
	return c
}

func cacheKey(tenantID, method, path, rawQuery string) string {
	key := tenantID + ":" + method + ":" + path
	if rawQuery != "" {
		key += "?" + rawQuery
	}
	return key
}

var _ Cache = (*ResponseCache)(nil)

// Get returns a cached response, or nil on miss.
func (c *ResponseCache) Get(_ context.Context, tenantID, method, path, rawQuery string) *ForwardResponse {
	if method != http.MethodGet {
		return nil
	}
	key := cacheKey(tenantID, method, path, rawQuery)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.nowFunc().After(e.expiresAt) {
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil
	}

	metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
	return &ForwardResponse{
		StatusCode: e.status,
		Header:     e.header.Clone(),
		Body:       append([]byte(nil), e.body...),
	}
}

// Put stores a response. Only successful GET responses are cacheable;
// everything else is ignored.
func (c *ResponseCache) Put(_ context.Context, tenantID, method, path, rawQuery string, resp *ForwardResponse) {
	if method != http.MethodGet || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}
	key := cacheKey(tenantID, method, path, rawQuery)

	e := &cacheEntry{
		status:    resp.StatusCode,
		header:    resp.Header.Clone(),
		body:      append([]byte(nil), resp.Body...),
		expiresAt: c.nowFunc().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// InvalidateTenant drops every cached response for one tenant.
func (c *ResponseCache) InvalidateTenant(_ context.Context, tenantID string) {
	prefix := tenantID + ":"
	c.mu.Lock()
	for key := range c.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Stop halts the eviction sweep.
func (c *ResponseCache) Stop() {
	close(c.stop)
}

func (c *ResponseCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.nowFunc()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
