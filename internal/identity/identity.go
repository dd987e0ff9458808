// Package identity verifies credentials and resolves them to a tenant-scoped
// identity.
//
// Authentication model:
//   - API keys ("sk_" prefix) are long-lived machine credentials, stored hashed.
//   - Bearer tokens ("tk_" prefix) are opaque short-lived user credentials.
//   - When both are presented, the API key wins.
package identity

import (
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	ErrKeyNotFound     = errors.New("identity: credential not found")
)

// Permission is a single capability flag.
type Permission uint32

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermDelete
	PermAnalytics
	PermAdmin
)

// PermissionSet is a bitmask of capabilities with set semantics.
type PermissionSet uint32

// NewPermissionSet builds a set from individual permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= PermissionSet(p)
	}
	return s
}

// Has reports whether every bit of p is present in the set.
func (s PermissionSet) Has(p Permission) bool {
	return s&PermissionSet(p) == PermissionSet(p)
}

// Union returns the combined set.
func (s PermissionSet) Union(o PermissionSet) PermissionSet {
	return s | o
}

// Intersect returns the permissions present in both sets.
func (s PermissionSet) Intersect(o PermissionSet) PermissionSet {
	return s & o
}

// String renders the set as a comma-joined list of permission names.
func (s PermissionSet) String() string {
	names := []struct {
		p    Permission
		name string
	}{
		{PermRead, "read"},
		{PermWrite, "write"},
		{PermDelete, "delete"},
		{PermAnalytics, "analytics"},
		{PermAdmin, "admin"},
	}
	var out []string
	for _, n := range names {
		if s.Has(n.p) {
			out = append(out, n.name)
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ",")
}

// DefaultPermissions is what a freshly issued key can do.
var DefaultPermissions = NewPermissionSet(PermRead, PermWrite)

// Identity is the resolved result of credential verification.
type Identity struct {
	TenantID    string        `json:"tenantId"`
	UserID      string        `json:"userId"`
	Permissions PermissionSet `json:"permissions"`
}

// APIKey is a stored machine credential. The raw key is shown once at issue
// time; only its hash is persisted.
type APIKey struct {
	ID          string        `json:"id"`
	Hash        string        `json:"-"`
	TenantID    string        `json:"tenantId"`
	UserID      string        `json:"userId,omitempty"`
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastUsed    time.Time     `json:"lastUsed,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	Revoked     bool          `json:"revoked"`
}

// Token is a stored opaque bearer credential.
type Token struct {
	ID          string        `json:"id"`
	Hash        string        `json:"-"`
	TenantID    string        `json:"tenantId"`
	UserID      string        `json:"userId"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	Revoked     bool          `json:"revoked"`
}

// Expired reports whether the key has passed its expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Expired reports whether the token has passed its expiry.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
