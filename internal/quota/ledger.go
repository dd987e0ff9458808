package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perimeterhq/perimeter/internal/idgen"
	"github.com/perimeterhq/perimeter/internal/metrics"
	"github.com/perimeterhq/perimeter/internal/syncutil"
)

// Ledger holds the live consumption counters. TryConsume is atomic per
// (tenant, resource type) key: the read-compare-increment sequence runs
// inside a sharded mutex, and the updated row is persisted before the call
// returns so a crash cannot silently lose consumed quota.
type Ledger struct {
	store  LedgerStore
	usage  UsageStore // optional; successful consumes append events
	logger *slog.Logger
	locks  syncutil.ContextShardedMutex
}

// NewLedger creates a ledger over the given store. Pass usage=nil to
// disable usage-event recording.
func NewLedger(store LedgerStore, usage UsageStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, usage: usage, logger: logger}
}

func ledgerKey(tenantID string, rt ResourceType) string {
	return tenantID + ":" + string(rt)
}

// TryConsume atomically checks and consumes quota. Returns ErrQuotaExceeded
// when the consume would push Used past Limit; the counter is left untouched.
// ErrQuotaExceeded is an expected, frequent outcome and is never logged as
// an error.
func (l *Ledger) TryConsume(ctx context.Context, tenantID string, rt ResourceType, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock, err := l.locks.LockContext(ctx, ledgerKey(tenantID, rt))
	if err != nil {
		return err
	}
	defer unlock()

	q, err := l.store.Get(ctx, tenantID, rt)
	if err != nil {
		return err
	}

	if q.Used+amount > q.Limit {
		metrics.QuotaConsumptionsTotal.WithLabelValues(string(rt), "rejected").Inc()
		return ErrQuotaExceeded
	}

	q.Used += amount
	q.UpdatedAt = time.Now()

	// Write-through before returning success.
	if err := l.store.Upsert(ctx, q); err != nil {
		return fmt.Errorf("persist consume: %w", err)
	}
	metrics.QuotaConsumptionsTotal.WithLabelValues(string(rt), "ok").Inc()

	if l.usage != nil {
		ev := &UsageEvent{
			ID:           idgen.WithPrefix("ue_"),
			TenantID:     tenantID,
			ResourceType: rt,
			Amount:       amount,
			CreatedAt:    q.UpdatedAt,
		}
		if err := l.usage.Append(ctx, ev); err != nil {
			l.logger.Warn("failed to append usage event", "tenant", tenantID, "resource", rt, "error", err)
		}
	}

	return nil
}

// Release returns previously consumed quota. Used never drops below zero.
func (l *Ledger) Release(ctx context.Context, tenantID string, rt ResourceType, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock, err := l.locks.LockContext(ctx, ledgerKey(tenantID, rt))
	if err != nil {
		return err
	}
	defer unlock()

	q, err := l.store.Get(ctx, tenantID, rt)
	if err != nil {
		return err
	}

	q.Used -= amount
	if q.Used < 0 {
		q.Used = 0
	}
	q.UpdatedAt = time.Now()

	return l.store.Upsert(ctx, q)
}

// Snapshot returns all ledger rows for a tenant.
func (l *Ledger) Snapshot(ctx context.Context, tenantID string) ([]*ResourceQuota, error) {
	return l.store.ListByTenant(ctx, tenantID)
}

// Usage returns the current counter for one key.
func (l *Ledger) Usage(ctx context.Context, tenantID string, rt ResourceType) (*ResourceQuota, error) {
	return l.store.Get(ctx, tenantID, rt)
}

// SetLimits provisions or adjusts the limits for one key, creating the row
// if it does not exist. Used is preserved on adjustment: a limit lowered
// below current usage blocks further consumes but does not clamp Used.
func (l *Ledger) SetLimits(ctx context.Context, tenantID string, rt ResourceType, limit, softLimit int64) error {
	unlock, err := l.locks.LockContext(ctx, ledgerKey(tenantID, rt))
	if err != nil {
		return err
	}
	defer unlock()

	q, err := l.store.Get(ctx, tenantID, rt)
	if err == ErrQuotaNotFound {
		q = &ResourceQuota{TenantID: tenantID, ResourceType: rt}
	} else if err != nil {
		return err
	}

	q.Limit = limit
	q.SoftLimit = softLimit
	q.UpdatedAt = time.Now()

	return l.store.Upsert(ctx, q)
}
