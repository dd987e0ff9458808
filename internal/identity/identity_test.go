package identity

import (
	"context"
	"testing"
	"time"
)

func TestPermissionSet_HasUnionIntersect(t *testing.T) {
	rw := NewPermissionSet(PermRead, PermWrite)
	admin := NewPermissionSet(PermAdmin, PermRead)

	if !rw.Has(PermRead) || !rw.Has(PermWrite) {
		t.Fatal("expected read+write")
	}
	if rw.Has(PermAdmin) {
		t.Fatal("unexpected admin")
	}

	union := rw.Union(admin)
	for _, p := range []Permission{PermRead, PermWrite, PermAdmin} {
		if !union.Has(p) {
			t.Fatalf("union missing %s", NewPermissionSet(p))
		}
	}

	inter := rw.Intersect(admin)
	if !inter.Has(PermRead) {
		t.Fatal("intersection missing read")
	}
	if inter.Has(PermWrite) || inter.Has(PermAdmin) {
		t.Fatal("intersection has extra permissions")
	}
}

func TestPermissionSet_String(t *testing.T) {
	if got := NewPermissionSet(PermRead, PermAdmin).String(); got != "read,admin" {
		t.Fatalf("got %q", got)
	}
	if got := PermissionSet(0).String(); got != "none" {
		t.Fatalf("got %q", got)
	}
}

func TestManager_IssueAndVerifyKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, keyID, err := m.IssueKey(ctx, "tn_1", "test key")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if keyID == "" {
		t.Fatal("expected key ID")
	}

	id, err := m.Verify(ctx, rawKey, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.TenantID != "tn_1" {
		t.Fatalf("expected tn_1, got %s", id.TenantID)
	}
	if !id.Permissions.Has(PermRead) || !id.Permissions.Has(PermWrite) {
		t.Fatal("expected default read+write permissions")
	}
}

func TestManager_IssueAndVerifyToken(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawToken, _, err := m.IssueToken(ctx, "tn_1", "user_7", NewPermissionSet(PermRead), 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := m.Verify(ctx, "", "Bearer "+rawToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.TenantID != "tn_1" || id.UserID != "user_7" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestManager_APIKeyPrecedenceOverBearer(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, _, err := m.IssueKey(ctx, "tn_key", "key")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	rawToken, _, err := m.IssueToken(ctx, "tn_token", "user_1", DefaultPermissions, 0)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	// Both presented: the API key must win.
	id, err := m.Verify(ctx, rawKey, "Bearer "+rawToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.TenantID != "tn_key" {
		t.Fatalf("expected API key tenant, got %s", id.TenantID)
	}
}

func TestManager_VerifyFailures(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name   string
		apiKey string
		bearer string
	}{
		{"no credentials", "", ""},
		{"unknown key", "sk_deadbeef", ""},
		{"bad key prefix", "pk_deadbeef", ""},
		{"unknown token", "", "Bearer tk_deadbeef"},
		{"bad token prefix", "", "Bearer jwt.abc.def"},
	}
	for _, tc := range cases {
		if _, err := m.Verify(ctx, tc.apiKey, tc.bearer); err != ErrUnauthenticated {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", tc.name, err)
		}
	}
}

func TestManager_RevokedAndExpired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, keyID, err := m.IssueKey(ctx, "tn_1", "key")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Revoke and verify rejection.
	keys, _ := store.ListKeysByTenant(ctx, "tn_1")
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			if err := store.UpdateKey(ctx, k); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}
	if _, err := m.Verify(ctx, rawKey, ""); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for revoked key, got %v", err)
	}

	// Expired token.
	rawToken, _, err := m.IssueToken(ctx, "tn_1", "user_1", DefaultPermissions, time.Nanosecond)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := m.Verify(ctx, "", rawToken); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}
