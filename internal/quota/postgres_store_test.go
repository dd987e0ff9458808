package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perimeterhq/perimeter/internal/testutil"
)

func TestPostgresLedgerStore_UpsertAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresLedgerStore(db)

	if _, err := store.Get(ctx, "tn_pg1", ResourceAPICalls); !errors.Is(err, ErrQuotaNotFound) {
		t.Fatalf("expected ErrQuotaNotFound, got %v", err)
	}

	q := &ResourceQuota{
		TenantID:     "tn_pg1",
		ResourceType: ResourceAPICalls,
		Limit:        1000,
		Used:         10,
		SoftLimit:    800,
		UpdatedAt:    time.Now(),
	}
	if err := store.Upsert(ctx, q); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "tn_pg1", ResourceAPICalls)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Limit != 1000 || got.Used != 10 || got.SoftLimit != 800 {
		t.Fatalf("unexpected row %+v", got)
	}

	// Upsert again updates in place.
	q.Used = 42
	if err := store.Upsert(ctx, q); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = store.Get(ctx, "tn_pg1", ResourceAPICalls)
	if got.Used != 42 {
		t.Fatalf("expected used 42, got %d", got.Used)
	}

	rows, err := store.ListByTenant(ctx, "tn_pg1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestPostgresPolicyStore_CreateUpdateSentinels(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresPolicyStore(db)

	now := time.Now()
	p := &QuotaPolicy{
		TenantID:          "tn_pg2",
		ResourceType:      ResourceStorage,
		HardLimit:         2048,
		SoftLimit:         1638,
		WarningThreshold:  80,
		CriticalThreshold: 95,
		AutoScaleFactor:   1.5,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, p); !errors.Is(err, ErrPolicyExists) {
		t.Fatalf("expected ErrPolicyExists, got %v", err)
	}

	p.HardLimit = 4096
	p.UpdatedAt = time.Now()
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Get(ctx, "tn_pg2", ResourceStorage)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HardLimit != 4096 {
		t.Fatalf("expected hard limit 4096, got %d", got.HardLimit)
	}

	missing := &QuotaPolicy{
		TenantID: "tn_pg2", ResourceType: ResourceCPU,
		HardLimit: 1, SoftLimit: 1, WarningThreshold: 80, CriticalThreshold: 95, AutoScaleFactor: 1.5,
	}
	if err := store.Update(ctx, missing); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestPostgresAlertStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresAlertStore(db)

	a := &ResourceAlert{
		ID:           "alr_pg1",
		TenantID:     "tn_pg3",
		AlertType:    AlertWarning,
		ResourceType: ResourceAPICalls,
		CurrentUsage: 850,
		Limit:        1000,
		ThresholdPct: 85,
		Message:      "api_calls usage at 85.0% of limit 1000",
		CreatedAt:    time.Now(),
	}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	unresolved, err := store.ListByTenant(ctx, "tn_pg3", true, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("expected 1 unresolved alert, got %d", len(unresolved))
	}

	if err := store.Resolve(ctx, "alr_pg1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	unresolved, _ = store.ListByTenant(ctx, "tn_pg3", true, 0)
	if len(unresolved) != 0 {
		t.Fatalf("expected 0 unresolved alerts, got %d", len(unresolved))
	}

	if err := store.Resolve(ctx, "alr_missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}
