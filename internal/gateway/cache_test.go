package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttl time.Duration) (*ResponseCache, *time.Time) {
	t.Helper()
	c := NewResponseCache(ttl)
	t.Cleanup(c.Stop)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }
	return c, &now
}

func okResponse(body string) *ForwardResponse {
	return &ForwardResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

func TestResponseCache_HitWithinTTL(t *testing.T) {
	c, now := newTestCache(t, 300*time.Second)
	ctx := context.Background()

	c.Put(ctx, "tn_1", http.MethodGet, "/api/v1/billing/invoices", "", okResponse(`{"n":1}`))

	got := c.Get(ctx, "tn_1", http.MethodGet, "/api/v1/billing/invoices", "")
	if got == nil {
		t.Fatal("expected cache hit")
	}
	if string(got.Body) != `{"n":1}` {
		t.Fatalf("unexpected body %s", got.Body)
	}

	*now = now.Add(301 * time.Second)
	if c.Get(ctx, "tn_1", http.MethodGet, "/api/v1/billing/invoices", "") != nil {
		t.Fatal("expected miss after TTL")
	}
}

func TestResponseCache_OnlySuccessfulGETs(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	// Non-GET is never cached.
	c.Put(ctx, "tn_1", http.MethodPost, "/p", "", okResponse("x"))
	if c.Get(ctx, "tn_1", http.MethodPost, "/p", "") != nil {
		t.Fatal("POST must not be cached")
	}

	// Non-2xx is never cached.
	c.Put(ctx, "tn_1", http.MethodGet, "/q", "", &ForwardResponse{StatusCode: http.StatusBadGateway})
	if c.Get(ctx, "tn_1", http.MethodGet, "/q", "") != nil {
		t.Fatal("5xx must not be cached")
	}
}

func TestResponseCache_KeyedByTenantAndQuery(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "tn_1", http.MethodGet, "/r", "page=1", okResponse("one"))

	if c.Get(ctx, "tn_2", http.MethodGet, "/r", "page=1") != nil {
		t.Fatal("cache must not leak across tenants")
	}
	if c.Get(ctx, "tn_1", http.MethodGet, "/r", "page=2") != nil {
		t.Fatal("different query must miss")
	}
	if c.Get(ctx, "tn_1", http.MethodGet, "/r", "page=1") == nil {
		t.Fatal("same key must hit")
	}
}

func TestResponseCache_CopyOnReturn(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "tn_1", http.MethodGet, "/r", "", okResponse("abc"))
	got := c.Get(ctx, "tn_1", http.MethodGet, "/r", "")
	got.Body[0] = 'X'

	again := c.Get(ctx, "tn_1", http.MethodGet, "/r", "")
	if string(again.Body) != "abc" {
		t.Fatal("cache returned a shared byte slice")
	}
}

func TestResponseCache_InvalidateTenant(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "tn_1", http.MethodGet, "/a", "", okResponse("1"))
	c.Put(ctx, "tn_2", http.MethodGet, "/a", "", okResponse("2"))

	c.InvalidateTenant(ctx, "tn_1")

	if c.Get(ctx, "tn_1", http.MethodGet, "/a", "") != nil {
		t.Fatal("tn_1 entries should be gone")
	}
	if c.Get(ctx, "tn_2", http.MethodGet, "/a", "") == nil {
		t.Fatal("tn_2 entries should survive")
	}
}
