package gateway

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	requests   []*RequestRecord
	violations []*RateLimitViolation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory analytics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordRequest(ctx context.Context, rec *RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.requests = append(s.requests, &cp)
	return nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, tenantID string, limit int) ([]*RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RequestRecord
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].TenantID != tenantID {
			continue
		}
		cp := *s.requests[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, tenantID string) (*RequestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &RequestStats{}
	var latencySum int64
	for _, r := range s.requests {
		if r.TenantID != tenantID {
			continue
		}
		stats.TotalRequests++
		if r.StatusCode >= 500 {
			stats.ErrorRequests++
		}
		if r.CacheHit {
			stats.CacheHits++
		}
		latencySum += r.LatencyMs
	}
	if stats.TotalRequests > 0 {
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalRequests)
	}
	return stats, nil
}

func (s *MemoryStore) RecordViolation(ctx context.Context, v *RateLimitViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.violations = append(s.violations, &cp)
	return nil
}

func (s *MemoryStore) ListViolations(ctx context.Context, tenantID string, limit int) ([]*RateLimitViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RateLimitViolation
	for i := len(s.violations) - 1; i >= 0; i-- {
		if s.violations[i].TenantID != tenantID {
			continue
		}
		cp := *s.violations[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
