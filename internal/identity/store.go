package identity

import "context"

// Store persists credentials.
type Store interface {
	CreateKey(ctx context.Context, key *APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	ListKeysByTenant(ctx context.Context, tenantID string) ([]*APIKey, error)
	UpdateKey(ctx context.Context, key *APIKey) error

	CreateToken(ctx context.Context, tok *Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	RevokeToken(ctx context.Context, id string) error
}
