package quota

import (
	"context"
	"sync"
	"time"

	"github.com/perimeterhq/perimeter/internal/tenant"
)

// Default alerting thresholds for seeded policies.
const (
	DefaultWarningThreshold  = 80.0
	DefaultCriticalThreshold = 95.0
	DefaultAutoScaleFactor   = 1.5

	// softLimitPct is the soft limit as a fraction of the hard limit,
	// both at seed time and after every auto-scale.
	softLimitPct = 0.80
)

// LimitApplier provisions ledger limits alongside policy writes so the two
// never drift.
type LimitApplier interface {
	SetLimits(ctx context.Context, tenantID string, rt ResourceType, limit, softLimit int64) error
}

// CachedPolicies is the policy store read path: an in-memory cache refreshed
// on write. No background polling is needed since this process is the sole
// writer.
type CachedPolicies struct {
	store  PolicyStore
	limits LimitApplier // optional; applied on seed/create/update

	mu    sync.RWMutex
	cache map[string]*QuotaPolicy
}

// NewCachedPolicies creates the cached policy layer.
func NewCachedPolicies(store PolicyStore, limits LimitApplier) *CachedPolicies {
	return &CachedPolicies{
		store:  store,
		limits: limits,
		cache:  make(map[string]*QuotaPolicy),
	}
}

// Get returns the policy for one key, from cache when present.
func (c *CachedPolicies) Get(ctx context.Context, tenantID string, rt ResourceType) (*QuotaPolicy, error) {
	key := ledgerKey(tenantID, rt)

	c.mu.RLock()
	p, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		cp := *p
		return &cp, nil
	}

	p, err := c.store.Get(ctx, tenantID, rt)
	if err != nil {
		return nil, err
	}
	c.put(p)
	cp := *p
	return &cp, nil
}

// Create persists a new policy, refreshes the cache, and applies the limits
// to the ledger.
func (c *CachedPolicies) Create(ctx context.Context, p *QuotaPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := c.store.Create(ctx, p); err != nil {
		return err
	}
	c.put(p)

	if c.limits != nil {
		return c.limits.SetLimits(ctx, p.TenantID, p.ResourceType, p.HardLimit, p.SoftLimit)
	}
	return nil
}

// Update replaces a policy in full, bumps UpdatedAt, refreshes the cache,
// and applies the new limits to the ledger.
//
// The ledger is written first. If the ledger write fails, neither store nor
// cache has changed and the old limits stay in force everywhere. If the
// policy write fails afterward, the next evaluation still reads the old
// policy and retries the whole update, so the two converge instead of
// drifting apart.
func (c *CachedPolicies) Update(ctx context.Context, p *QuotaPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	// Refuse unknown keys before touching the ledger.
	if _, err := c.Get(ctx, p.TenantID, p.ResourceType); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()

	if c.limits != nil {
		if err := c.limits.SetLimits(ctx, p.TenantID, p.ResourceType, p.HardLimit, p.SoftLimit); err != nil {
			return err
		}
	}

	if err := c.store.Update(ctx, p); err != nil {
		return err
	}
	c.put(p)
	return nil
}

// ListByTenant returns all policies for a tenant straight from the store.
func (c *CachedPolicies) ListByTenant(ctx context.Context, tenantID string) ([]*QuotaPolicy, error) {
	return c.store.ListByTenant(ctx, tenantID)
}

// SeedDefaults creates plan-default policies for a freshly provisioned
// tenant. Values come from the plan catalogue, not code: changing a tier's
// quota means editing the plan table.
func (c *CachedPolicies) SeedDefaults(ctx context.Context, tenantID string, plan tenant.Plan) error {
	cfg := tenant.ConfigForPlan(plan)

	seeds := []struct {
		rt    ResourceType
		limit int64
	}{
		{ResourceUsers, cfg.MaxUsers},
		{ResourceStorage, cfg.StorageMB},
		{ResourceAPICalls, cfg.APICallsPerMonth},
		{ResourceDatabases, cfg.Databases},
	}

	for _, s := range seeds {
		p := &QuotaPolicy{
			TenantID:          tenantID,
			ResourceType:      s.rt,
			HardLimit:         s.limit,
			SoftLimit:         int64(float64(s.limit) * softLimitPct),
			WarningThreshold:  DefaultWarningThreshold,
			CriticalThreshold: DefaultCriticalThreshold,
			AutoScale:         false,
			AutoScaleFactor:   DefaultAutoScaleFactor,
		}
		if err := c.Create(ctx, p); err != nil && err != ErrPolicyExists {
			return err
		}
	}
	return nil
}

// Invalidate drops a cached policy (used after out-of-band store writes).
func (c *CachedPolicies) Invalidate(tenantID string, rt ResourceType) {
	c.mu.Lock()
	delete(c.cache, ledgerKey(tenantID, rt))
	c.mu.Unlock()
}

func (c *CachedPolicies) put(p *QuotaPolicy) {
	cp := *p
	c.mu.Lock()
	c.cache[ledgerKey(p.TenantID, p.ResourceType)] = &cp
	c.mu.Unlock()
}
