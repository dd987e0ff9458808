package gateway

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perimeterhq/perimeter/internal/tenant"
)

func newResolverFixture(t *testing.T) *Resolver {
	t.Helper()
	ctx := context.Background()

	store := tenant.NewMemoryStore()
	now := time.Now()
	err := store.Create(ctx, &tenant.Tenant{
		ID:        "tn_acme",
		Name:      "Acme",
		Domain:    "acme",
		Plan:      tenant.PlanStarter,
		Status:    tenant.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return NewResolver(tenant.NewDirectory(store, 0), "api.example.com")
}

func TestResolver_Subdomain(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "acme.api.example.com"

	got, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "tn_acme" {
		t.Fatalf("expected tn_acme, got %s", got.ID)
	}
}

func TestResolver_SubdomainWithPort(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "ACME.api.example.com:8443"

	got, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "tn_acme" {
		t.Fatalf("expected tn_acme, got %s", got.ID)
	}
}

func TestResolver_Header(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "api.example.com"
	req.Header.Set("X-Tenant-ID", "tn_acme")

	got, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "tn_acme" {
		t.Fatalf("expected tn_acme, got %s", got.ID)
	}
}

func TestResolver_PathSegment(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/tenant/tn_acme/api/v1/billing/invoices", nil)
	req.Host = "api.example.com"

	got, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "tn_acme" {
		t.Fatalf("expected tn_acme, got %s", got.ID)
	}
}

func TestResolver_SubdomainWinsOverHeader(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "acme.api.example.com"
	req.Header.Set("X-Tenant-ID", "tn_other")

	got, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "tn_acme" {
		t.Fatalf("subdomain must take precedence, got %s", got.ID)
	}
}

func TestResolver_WrongIdentifierDoesNotFallThrough(t *testing.T) {
	r := newResolverFixture(t)

	// The header names an unknown tenant; the valid path segment must not
	// rescue the request.
	req := httptest.NewRequest("GET", "/tenant/tn_acme/api/v1/billing/invoices", nil)
	req.Host = "api.example.com"
	req.Header.Set("X-Tenant-ID", "tn_unknown")

	if _, err := r.Resolve(context.Background(), req); err != tenant.ErrTenantNotFound {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolver_NoMechanism(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "api.example.com"

	if _, err := r.Resolve(context.Background(), req); err != ErrTenantNotResolved {
		t.Fatalf("expected ErrTenantNotResolved, got %v", err)
	}
}

func TestResolver_NestedSubdomainIgnored(t *testing.T) {
	r := newResolverFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/billing/invoices", nil)
	req.Host = "deep.acme.api.example.com"

	if _, err := r.Resolve(context.Background(), req); err != ErrTenantNotResolved {
		t.Fatalf("expected ErrTenantNotResolved for nested label, got %v", err)
	}
}

func TestStripTenantPrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/tenant/tn_1/api/v1/billing/x", "/api/v1/billing/x"},
		{"/api/v1/billing/x", "/api/v1/billing/x"},
		{"/tenant/tn_1", "/"},
		{"/", "/"},
	}
	for _, tc := range cases {
		if got := StripTenantPrefix(tc.in); got != tc.want {
			t.Errorf("StripTenantPrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitServicePath(t *testing.T) {
	cases := []struct{ in, service, rest string }{
		{"/api/v1/billing/invoices/42", "billing", "/invoices/42"},
		{"/api/v1/billing", "billing", "/"},
		{"/other", "", ""},
	}
	for _, tc := range cases {
		service, rest := splitServicePath(tc.in)
		if service != tc.service || rest != tc.rest {
			t.Errorf("splitServicePath(%q) = (%q, %q), want (%q, %q)", tc.in, service, rest, tc.service, tc.rest)
		}
	}
}
