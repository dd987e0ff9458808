// Package gateway is the proxy surface of the API: it resolves the calling
// tenant, authenticates, enforces plan rate limits and quotas, and forwards
// the request to a registered backend service behind a circuit breaker.
//
// Flow per request:
//  1. Resolve tenant (subdomain → X-Tenant-ID header → path segment)
//  2. Authenticate (API key wins over bearer token)
//  3. Tenant status check
//  4. Plan-tier rate limit
//  5. API-call quota consume
//  6. Response cache (GET only)
//  7. Circuit-broken forward to the backend
package gateway

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotResolved  = errors.New("gateway: no tenant in request")
	ErrNoRoute            = errors.New("gateway: no backend service for path")
	ErrCircuitOpen        = errors.New("gateway: backend circuit open")
	ErrBackendTimeout     = errors.New("gateway: backend timed out")
	ErrBackendUnreachable = errors.New("gateway: backend unreachable")
)

// Defaults
const (
	DefaultCacheTTL     = 300 * time.Second
	DefaultProxyTimeout = 30 * time.Second
	RateLimitWindow     = time.Hour
)

// RequestRecord is one proxied request, captured for analytics.
type RequestRecord struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId,omitempty"`
	Service    string    `json:"service"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"statusCode"`
	LatencyMs  int64     `json:"latencyMs"`
	CacheHit   bool      `json:"cacheHit"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RateLimitViolation records a denied request for abuse analysis.
type RateLimitViolation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Endpoint  string    `json:"endpoint"`
	Limit     int       `json:"limit"`
	CreatedAt time.Time `json:"createdAt"`
}

// RequestStats aggregates a tenant's proxied traffic.
type RequestStats struct {
	TotalRequests int64   `json:"totalRequests"`
	ErrorRequests int64   `json:"errorRequests"`
	CacheHits     int64   `json:"cacheHits"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
}
