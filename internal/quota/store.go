package quota

import "context"

// LedgerStore persists ledger rows. Callers hold the per-key lock; the store
// only needs to write what it is given.
type LedgerStore interface {
	Get(ctx context.Context, tenantID string, rt ResourceType) (*ResourceQuota, error)
	Upsert(ctx context.Context, q *ResourceQuota) error
	ListByTenant(ctx context.Context, tenantID string) ([]*ResourceQuota, error)
}

// PolicyStore persists quota policies.
type PolicyStore interface {
	Get(ctx context.Context, tenantID string, rt ResourceType) (*QuotaPolicy, error)
	Create(ctx context.Context, p *QuotaPolicy) error
	Update(ctx context.Context, p *QuotaPolicy) error
	ListByTenant(ctx context.Context, tenantID string) ([]*QuotaPolicy, error)
}

// AlertStore persists resource alerts.
type AlertStore interface {
	Create(ctx context.Context, a *ResourceAlert) error
	ListByTenant(ctx context.Context, tenantID string, unresolvedOnly bool, limit int) ([]*ResourceAlert, error)
	Resolve(ctx context.Context, id string) error
}

// UsageStore persists per-consumption usage events.
type UsageStore interface {
	Append(ctx context.Context, ev *UsageEvent) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*UsageEvent, error)
}
