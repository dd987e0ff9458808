package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTokenTTL is how long issued bearer tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Manager issues and verifies credentials. It is the Identity Provider
// boundary: the gateway hands it raw header values and gets back a resolved
// Identity or ErrUnauthenticated.
type Manager struct {
	store Store
}

// NewManager creates a new identity manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store (used by handlers).
func (m *Manager) Store() Store { return m.store }

// IssueKey creates a new API key for a tenant with default permissions.
// Returns the raw key (shown once) and the key ID.
func (m *Manager) IssueKey(ctx context.Context, tenantID, name string) (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	rawKey := "sk_" + hex.EncodeToString(b)
	key := &APIKey{
		ID:          "ak_" + hex.EncodeToString(b[:8]),
		Hash:        hashCredential(rawKey),
		TenantID:    tenantID,
		Name:        name,
		Permissions: DefaultPermissions,
		CreatedAt:   time.Now(),
	}

	if err := m.store.CreateKey(ctx, key); err != nil {
		return "", "", err
	}
	return rawKey, key.ID, nil
}

// IssueToken creates a bearer token for a user within a tenant.
// Pass ttl=0 to use DefaultTokenTTL.
func (m *Manager) IssueToken(ctx context.Context, tenantID, userID string, perms PermissionSet, ttl time.Duration) (string, *Token, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}

	rawToken := "tk_" + hex.EncodeToString(b)
	now := time.Now()
	tok := &Token{
		ID:          "tok_" + hex.EncodeToString(b[:8]),
		Hash:        hashCredential(rawToken),
		TenantID:    tenantID,
		UserID:      userID,
		Permissions: perms,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := m.store.CreateToken(ctx, tok); err != nil {
		return "", nil, err
	}
	return rawToken, tok, nil
}

// Verify resolves a credential pair to an identity. The API key takes
// precedence over the bearer token when both are present. Any lookup or
// validity failure collapses to ErrUnauthenticated; callers never learn
// which check failed.
func (m *Manager) Verify(ctx context.Context, apiKey, bearer string) (*Identity, error) {
	if apiKey != "" {
		return m.verifyKey(ctx, apiKey)
	}
	if bearer != "" {
		return m.verifyToken(ctx, bearer)
	}
	return nil, ErrUnauthenticated
}

func (m *Manager) verifyKey(ctx context.Context, rawKey string) (*Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrUnauthenticated
	}

	key, err := m.store.GetKeyByHash(ctx, hashCredential(rawKey))
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if key.Revoked || key.Expired(time.Now()) {
		return nil, ErrUnauthenticated
	}

	// Update last used (fire and forget).
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.UpdateKey(context.Background(), key)
	}()

	return &Identity{
		TenantID:    key.TenantID,
		UserID:      key.UserID,
		Permissions: key.Permissions,
	}, nil
}

func (m *Manager) verifyToken(ctx context.Context, rawToken string) (*Identity, error) {
	rawToken = strings.TrimPrefix(rawToken, "Bearer ")
	rawToken = strings.TrimSpace(rawToken)
	if !strings.HasPrefix(rawToken, "tk_") {
		return nil, ErrUnauthenticated
	}

	tok, err := m.store.GetTokenByHash(ctx, hashCredential(rawToken))
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if tok.Revoked || tok.Expired(time.Now()) {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		TenantID:    tok.TenantID,
		UserID:      tok.UserID,
		Permissions: tok.Permissions,
	}, nil
}

func hashCredential(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
