package identity

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credential store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateKey(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, tenant_id, user_id, name, permissions, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.Hash, key.TenantID, nullStr(key.UserID), key.Name,
		int64(key.Permissions), key.CreatedAt, key.ExpiresAt, key.Revoked,
	)
	return err
}

func (p *PostgresStore) GetKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, hash, tenant_id, user_id, name, permissions, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1`, hash)

	key := &APIKey{}
	var (
		userID   sql.NullString
		perms    int64
		lastUsed sql.NullTime
	)
	err := row.Scan(&key.ID, &key.Hash, &key.TenantID, &userID, &key.Name,
		&perms, &key.CreatedAt, &lastUsed, &key.ExpiresAt, &key.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	key.UserID = userID.String
	key.Permissions = PermissionSet(perms)
	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

func (p *PostgresStore) ListKeysByTenant(ctx context.Context, tenantID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, tenant_id, user_id, name, permissions, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*APIKey
	for rows.Next() {
		key := &APIKey{}
		var (
			userID   sql.NullString
			perms    int64
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&key.ID, &key.Hash, &key.TenantID, &userID, &key.Name,
			&perms, &key.CreatedAt, &lastUsed, &key.ExpiresAt, &key.Revoked); err != nil {
			return nil, err
		}
		key.UserID = userID.String
		key.Permissions = PermissionSet(perms)
		if lastUsed.Valid {
			key.LastUsed = lastUsed.Time
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateKey(ctx context.Context, key *APIKey) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET name = $1, permissions = $2, last_used = $3, expires_at = $4, revoked = $5
		WHERE id = $6`,
		key.Name, int64(key.Permissions), nullTime(key.LastUsed), key.ExpiresAt, key.Revoked, key.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (p *PostgresStore) CreateToken(ctx context.Context, tok *Token) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, hash, tenant_id, user_id, permissions, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tok.ID, tok.Hash, tok.TenantID, tok.UserID, int64(tok.Permissions),
		tok.CreatedAt, tok.ExpiresAt, tok.Revoked,
	)
	return err
}

func (p *PostgresStore) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, hash, tenant_id, user_id, permissions, created_at, expires_at, revoked
		FROM access_tokens WHERE hash = $1`, hash)

	tok := &Token{}
	var perms int64
	err := row.Scan(&tok.ID, &tok.Hash, &tok.TenantID, &tok.UserID, &perms,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	tok.Permissions = PermissionSet(perms)
	return tok, nil
}

func (p *PostgresStore) RevokeToken(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE access_tokens SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Migrate creates the credential tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS api_keys (
			id          TEXT PRIMARY KEY,
			hash        TEXT NOT NULL UNIQUE,
			tenant_id   TEXT NOT NULL,
			user_id     TEXT,
			name        TEXT NOT NULL DEFAULT '',
			permissions BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used   TIMESTAMPTZ,
			expires_at  TIMESTAMPTZ,
			revoked     BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(hash);
		CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id);

		CREATE TABLE IF NOT EXISTS access_tokens (
			id          TEXT PRIMARY KEY,
			hash        TEXT NOT NULL UNIQUE,
			tenant_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			permissions BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at  TIMESTAMPTZ NOT NULL,
			revoked     BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_access_tokens_hash ON access_tokens(hash);
	`)
	return err
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ Store = (*PostgresStore)(nil)
