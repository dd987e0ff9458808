package quota

import (
	"context"
	"errors"
	"testing"
)

func newTestEnforcer(t *testing.T, p *QuotaPolicy) (*Enforcer, *CachedPolicies, *Ledger, *MemoryAlertStore) {
	t.Helper()
	ctx := context.Background()

	ledger := NewLedger(NewMemoryLedgerStore(), nil, nil)
	policies := NewCachedPolicies(NewMemoryPolicyStore(), ledger)
	alerts := NewMemoryAlertStore()

	if p != nil {
		if err := policies.Create(ctx, p); err != nil {
			t.Fatalf("create policy: %v", err)
		}
	}
	return NewEnforcer(policies, alerts, nil), policies, ledger, alerts
}

func autoScalePolicy() *QuotaPolicy {
	return &QuotaPolicy{
		TenantID:          "tn_1",
		ResourceType:      ResourceCPU,
		HardLimit:         1000,
		SoftLimit:         800,
		WarningThreshold:  80,
		CriticalThreshold: 95,
		AutoScale:         true,
		AutoScaleFactor:   1.5,
	}
}

func TestEnforcer_Normal(t *testing.T) {
	ctx := context.Background()
	e, _, _, alerts := newTestEnforcer(t, autoScalePolicy())

	status, alert, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 500)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != StatusNormal || alert != nil {
		t.Fatalf("expected normal with no alert, got %s %v", status, alert)
	}
	got, _ := alerts.ListByTenant(ctx, "tn_1", false, 0)
	if len(got) != 0 {
		t.Fatalf("expected no stored alerts, got %d", len(got))
	}
}

func TestEnforcer_WarningThenCriticalAutoScales(t *testing.T) {
	ctx := context.Background()
	e, policies, ledger, alerts := newTestEnforcer(t, autoScalePolicy())

	// 850 of 1000 is 85%: warning.
	status, alert, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 850)
	if err != nil {
		t.Fatalf("evaluate warning: %v", err)
	}
	if status != StatusWarning {
		t.Fatalf("expected warning, got %s", status)
	}
	if alert == nil || alert.AlertType != AlertWarning {
		t.Fatalf("expected warning alert, got %+v", alert)
	}

	// 970 of 1000 is 97%: critical, and the policy auto-scales.
	status, alert, err = e.Evaluate(ctx, "tn_1", ResourceCPU, 970)
	if err != nil {
		t.Fatalf("evaluate critical: %v", err)
	}
	if status != StatusCritical {
		t.Fatalf("expected critical, got %s", status)
	}
	if alert == nil || alert.AlertType != AlertExceeded {
		t.Fatalf("expected exceeded-type alert, got %+v", alert)
	}
	// The returned alert reflects the pre-scale limit.
	if alert.Limit != 1000 {
		t.Fatalf("expected alert limit 1000, got %d", alert.Limit)
	}

	p, err := policies.Get(ctx, "tn_1", ResourceCPU)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.HardLimit != 1500 {
		t.Fatalf("expected scaled hard limit 1500, got %d", p.HardLimit)
	}
	if p.SoftLimit != 1200 {
		t.Fatalf("expected scaled soft limit 1200, got %d", p.SoftLimit)
	}

	// The ledger moved with the policy.
	q, err := ledger.Usage(ctx, "tn_1", ResourceCPU)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if q.Limit != 1500 || q.SoftLimit != 1200 {
		t.Fatalf("expected ledger limits 1500/1200, got %d/%d", q.Limit, q.SoftLimit)
	}

	got, _ := alerts.ListByTenant(ctx, "tn_1", false, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 stored alerts, got %d", len(got))
	}
}

func TestEnforcer_Exceeded(t *testing.T) {
	ctx := context.Background()
	p := autoScalePolicy()
	p.AutoScale = false
	e, policies, _, _ := newTestEnforcer(t, p)

	status, alert, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 1200)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != StatusExceeded {
		t.Fatalf("expected exceeded, got %s", status)
	}
	if alert == nil || alert.AlertType != AlertExceeded {
		t.Fatalf("expected exceeded alert, got %+v", alert)
	}

	// Exceeded never scales, even with auto-scale enabled elsewhere.
	got, _ := policies.Get(ctx, "tn_1", ResourceCPU)
	if got.HardLimit != 1000 {
		t.Fatalf("expected unchanged limit 1000, got %d", got.HardLimit)
	}
}

func TestEnforcer_ExceededDoesNotAutoScale(t *testing.T) {
	ctx := context.Background()
	e, policies, _, _ := newTestEnforcer(t, autoScalePolicy())

	status, _, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 1000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != StatusExceeded {
		t.Fatalf("expected exceeded at exactly 100%%, got %s", status)
	}
	got, _ := policies.Get(ctx, "tn_1", ResourceCPU)
	if got.HardLimit != 1000 {
		t.Fatalf("expected unchanged limit 1000, got %d", got.HardLimit)
	}
}

func TestEnforcer_CriticalRepeatsAlerts(t *testing.T) {
	ctx := context.Background()
	p := autoScalePolicy()
	p.AutoScale = false
	e, _, _, alerts := newTestEnforcer(t, p)

	// A tenant stuck at critical keeps alerting every evaluation.
	for i := 0; i < 3; i++ {
		status, _, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 960)
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if status != StatusCritical {
			t.Fatalf("evaluate %d: expected critical, got %s", i, status)
		}
	}
	got, _ := alerts.ListByTenant(ctx, "tn_1", false, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
}

func TestEnforcer_MissingPolicy(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEnforcer(t, nil)

	_, _, err := e.Evaluate(ctx, "tn_x", ResourceCPU, 100)
	if err != ErrPolicyNotFound {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

type failingUpdateStore struct {
	PolicyStore
	fail bool
}

func (s *failingUpdateStore) Update(ctx context.Context, p *QuotaPolicy) error {
	if s.fail {
		return errors.New("store down")
	}
	return s.PolicyStore.Update(ctx, p)
}

type failingLimitApplier struct {
	inner LimitApplier
	fail  bool
}

func (a *failingLimitApplier) SetLimits(ctx context.Context, tenantID string, rt ResourceType, limit, softLimit int64) error {
	if a.fail {
		return errors.New("ledger down")
	}
	return a.inner.SetLimits(ctx, tenantID, rt, limit, softLimit)
}

func TestEnforcer_LedgerWriteFailureLeavesPolicyAndLedgerUntouched(t *testing.T) {
	ctx := context.Background()

	ledger := NewLedger(NewMemoryLedgerStore(), nil, nil)
	applier := &failingLimitApplier{inner: ledger}
	policies := NewCachedPolicies(NewMemoryPolicyStore(), applier)
	e := NewEnforcer(policies, NewMemoryAlertStore(), nil)

	if err := policies.Create(ctx, autoScalePolicy()); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	applier.fail = true

	// The ledger write fails, so the scale must not happen anywhere.
	status, alert, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 970)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != StatusCritical {
		t.Fatalf("expected critical, got %s", status)
	}
	if alert == nil || alert.Limit != 1000 {
		t.Fatalf("expected pre-scale alert limit 1000, got %+v", alert)
	}

	p, err := policies.Get(ctx, "tn_1", ResourceCPU)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.HardLimit != 1000 || p.SoftLimit != 800 {
		t.Fatalf("expected unchanged policy 1000/800, got %d/%d", p.HardLimit, p.SoftLimit)
	}

	q, err := ledger.Usage(ctx, "tn_1", ResourceCPU)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if q.Limit != 1000 || q.SoftLimit != 800 {
		t.Fatalf("expected unchanged ledger limits 1000/800, got %d/%d", q.Limit, q.SoftLimit)
	}

	// Once the ledger recovers, the next critical evaluation scales both.
	applier.fail = false
	if _, _, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 970); err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	p, _ = policies.Get(ctx, "tn_1", ResourceCPU)
	q, _ = ledger.Usage(ctx, "tn_1", ResourceCPU)
	if p.HardLimit != 1500 || q.Limit != 1500 {
		t.Fatalf("expected both scaled to 1500, got policy %d ledger %d", p.HardLimit, q.Limit)
	}
}

func TestEnforcer_AutoScaleFailureReturnsPreScaleVerdict(t *testing.T) {
	ctx := context.Background()

	ledger := NewLedger(NewMemoryLedgerStore(), nil, nil)
	store := &failingUpdateStore{PolicyStore: NewMemoryPolicyStore()}
	policies := NewCachedPolicies(store, ledger)
	alerts := NewMemoryAlertStore()
	e := NewEnforcer(policies, alerts, nil)

	if err := policies.Create(ctx, autoScalePolicy()); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	store.fail = true

	// The scale fails, but the evaluation still reports critical.
	status, alert, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 970)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != StatusCritical {
		t.Fatalf("expected critical, got %s", status)
	}
	if alert == nil || alert.Limit != 1000 {
		t.Fatalf("expected pre-scale alert limit 1000, got %+v", alert)
	}

	// The policy is untouched, so the scale re-fires on the next critical
	// evaluation and the ledger converges with the policy.
	p, err := policies.Get(ctx, "tn_1", ResourceCPU)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.HardLimit != 1000 {
		t.Fatalf("expected unchanged limit 1000, got %d", p.HardLimit)
	}

	store.fail = false
	if _, _, err := e.Evaluate(ctx, "tn_1", ResourceCPU, 970); err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	p, _ = policies.Get(ctx, "tn_1", ResourceCPU)
	q, _ := ledger.Usage(ctx, "tn_1", ResourceCPU)
	if p.HardLimit != 1500 || q.Limit != 1500 {
		t.Fatalf("expected both scaled to 1500, got policy %d ledger %d", p.HardLimit, q.Limit)
	}
}
