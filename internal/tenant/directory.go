package tenant

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a cached tenant lookup may be.
const DefaultCacheTTL = 60 * time.Second

// Directory is the read path used by the gateway: tenant lookups by ID or
// domain with a short TTL cache in front of the store. Plan and status
// transitions go through the directory so the cache is invalidated
// write-through rather than waiting for TTL expiry.
type Directory struct {
	store Store
	ttl   time.Duration

	mu      sync.RWMutex
	byID    map[string]cachedTenant
	byDom   map[string]cachedTenant
	nowFunc func() time.Time // overridable in tests
}

type cachedTenant struct {
	tenant  *Tenant
	expires time.Time
}

// NewDirectory creates a directory over the given store.
// Pass ttl=0 to use DefaultCacheTTL.
func NewDirectory(store Store, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{
		store:   store,
		ttl:     ttl,
		byID:    make(map[string]cachedTenant),
		byDom:   make(map[string]cachedTenant),
		nowFunc: time.Now,
	}
}

// Get returns a tenant by ID, from cache when fresh.
func (d *Directory) Get(ctx context.Context, id string) (*Tenant, error) {
	d.mu.RLock()
	c, ok := d.byID[id]
	d.mu.RUnlock()
	if ok && d.nowFunc().Before(c.expires) {
		cp := *c.tenant
		return &cp, nil
	}

	t, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache(t)
	return t, nil
}

// GetByDomain returns a tenant by its subdomain label, from cache when fresh.
func (d *Directory) GetByDomain(ctx context.Context, domain string) (*Tenant, error) {
	domain = strings.ToLower(domain)

	d.mu.RLock()
	c, ok := d.byDom[domain]
	d.mu.RUnlock()
	if ok && d.nowFunc().Before(c.expires) {
		cp := *c.tenant
		return &cp, nil
	}

	t, err := d.store.GetByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	d.cache(t)
	return t, nil
}

// ChangePlan moves a tenant to a new plan and invalidates cached lookups so
// rate-limit tiers pick up the new plan on the next request.
func (d *Directory) ChangePlan(ctx context.Context, id string, plan Plan) (*Tenant, error) {
	if !ValidPlan(plan) {
		return nil, ErrInvalidPlan
	}
	t, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Plan = plan
	t.UpdatedAt = time.Now()
	if err := d.store.Update(ctx, t); err != nil {
		return nil, err
	}
	d.Invalidate(t.ID, t.Domain)
	return t, nil
}

// ChangeStatus moves a tenant to a new lifecycle status and invalidates
// cached lookups.
func (d *Directory) ChangeStatus(ctx context.Context, id string, status Status) (*Tenant, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	t, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if err := d.store.Update(ctx, t); err != nil {
		return nil, err
	}
	d.Invalidate(t.ID, t.Domain)
	return t, nil
}

// Invalidate drops cached entries for a tenant.
func (d *Directory) Invalidate(id, domain string) {
	d.mu.Lock()
	delete(d.byID, id)
	delete(d.byDom, strings.ToLower(domain))
	d.mu.Unlock()
}

func (d *Directory) cache(t *Tenant) {
	cp := *t
	entry := cachedTenant{tenant: &cp, expires: d.nowFunc().Add(d.ttl)}
	d.mu.Lock()
	d.byID[t.ID] = entry
	d.byDom[strings.ToLower(t.Domain)] = entry
	d.mu.Unlock()
}
