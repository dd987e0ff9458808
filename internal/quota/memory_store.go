package quota

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedgerStore is an in-memory LedgerStore for tests and local
// development.
type MemoryLedgerStore struct {
	mu     sync.RWMutex
	quotas map[string]*ResourceQuota // tenantID:resourceType
}

var _ LedgerStore = (*MemoryLedgerStore)(nil)

// NewMemoryLedgerStore creates an empty in-memory ledger store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{quotas: make(map[string]*ResourceQuota)}
}

// Get returns one ledger row.
func (s *MemoryLedgerStore) Get(ctx context.Context, tenantID string, rt ResourceType) (*ResourceQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[ledgerKey(tenantID, rt)]
	if !ok {
		return nil, ErrQuotaNotFound
	}
	cp := *q
	return &cp, nil
}

// Upsert writes a ledger row.
func (s *MemoryLedgerStore) Upsert(ctx context.Context, q *ResourceQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *q
	s.quotas[ledgerKey(q.TenantID, q.ResourceType)] = &cp
	return nil
}

// ListByTenant returns all ledger rows for a tenant, ordered by resource type.
func (s *MemoryLedgerStore) ListByTenant(ctx context.Context, tenantID string) ([]*ResourceQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ResourceQuota
	for _, q := range s.quotas {
		if q.TenantID == tenantID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceType < out[j].ResourceType })
	return out, nil
}

// MemoryPolicyStore is an in-memory PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*QuotaPolicy // tenantID:resourceType
}

var _ PolicyStore = (*MemoryPolicyStore)(nil)

// NewMemoryPolicyStore creates an empty in-memory policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*QuotaPolicy)}
}

// Get returns one policy.
func (s *MemoryPolicyStore) Get(ctx context.Context, tenantID string, rt ResourceType) (*QuotaPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[ledgerKey(tenantID, rt)]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

// Create adds a new policy. Returns ErrPolicyExists when the key is already
// taken.
func (s *MemoryPolicyStore) Create(ctx context.Context, p *QuotaPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(p.TenantID, p.ResourceType)
	if _, ok := s.policies[key]; ok {
		return ErrPolicyExists
	}
	cp := *p
	s.policies[key] = &cp
	return nil
}

// Update replaces an existing policy.
func (s *MemoryPolicyStore) Update(ctx context.Context, p *QuotaPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(p.TenantID, p.ResourceType)
	if _, ok := s.policies[key]; !ok {
		return ErrPolicyNotFound
	}
	cp := *p
	s.policies[key] = &cp
	return nil
}

// ListByTenant returns all policies for a tenant, ordered by resource type.
func (s *MemoryPolicyStore) ListByTenant(ctx context.Context, tenantID string) ([]*QuotaPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*QuotaPolicy
	for _, p := range s.policies {
		if p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceType < out[j].ResourceType })
	return out, nil
}

// MemoryAlertStore is an in-memory AlertStore.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*ResourceAlert
}

var _ AlertStore = (*MemoryAlertStore)(nil)

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*ResourceAlert)}
}

// Create persists an alert.
func (s *MemoryAlertStore) Create(ctx context.Context, a *ResourceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// ListByTenant returns a tenant's alerts, newest first.
func (s *MemoryAlertStore) ListByTenant(ctx context.Context, tenantID string, unresolvedOnly bool, limit int) ([]*ResourceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ResourceAlert
	for _, a := range s.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if unresolvedOnly && a.Resolved {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Resolve marks an alert resolved.
func (s *MemoryAlertStore) Resolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	a.Resolved = true
	return nil
}

// MemoryUsageStore is an in-memory UsageStore.
type MemoryUsageStore struct {
	mu     sync.RWMutex
	events []*UsageEvent
}

var _ UsageStore = (*MemoryUsageStore)(nil)

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

// Append records a usage event.
func (s *MemoryUsageStore) Append(ctx context.Context, ev *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

// ListByTenant returns a tenant's usage events, newest first.
func (s *MemoryUsageStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*UsageEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].TenantID != tenantID {
			continue
		}
		cp := *s.events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
