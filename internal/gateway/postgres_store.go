package gateway

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is the PostgreSQL Store.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates an analytics store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the analytics tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_requests (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL DEFAULT '',
			service     TEXT NOT NULL,
			endpoint    TEXT NOT NULL,
			method      TEXT NOT NULL,
			status_code INT NOT NULL,
			latency_ms  BIGINT NOT NULL,
			cache_hit   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_requests_tenant ON api_requests(tenant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_violations (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			endpoint    TEXT NOT NULL,
			req_limit   INT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_violations_tenant ON rate_limit_violations(tenant_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate gateway tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordRequest(ctx context.Context, rec *RequestRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_requests (id, tenant_id, user_id, service, endpoint, method, status_code, latency_ms, cache_hit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TenantID, rec.UserID, rec.Service, rec.Endpoint, rec.Method,
		rec.StatusCode, rec.LatencyMs, rec.CacheHit, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, tenantID string, limit int) ([]*RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, service, endpoint, method, status_code, latency_ms, cache_hit, created_at
		FROM api_requests WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*RequestRecord
	for rows.Next() {
		var r RequestRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.UserID, &r.Service, &r.Endpoint,
			&r.Method, &r.StatusCode, &r.LatencyMs, &r.CacheHit, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, tenantID string) (*RequestStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status_code >= 500),
		       COUNT(*) FILTER (WHERE cache_hit),
		       COALESCE(AVG(latency_ms), 0)
		FROM api_requests WHERE tenant_id = $1`, tenantID)

	var stats RequestStats
	if err := row.Scan(&stats.TotalRequests, &stats.ErrorRequests, &stats.CacheHits, &stats.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	return &stats, nil
}

func (s *PostgresStore) RecordViolation(ctx context.Context, v *RateLimitViolation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_violations (id, tenant_id, endpoint, req_limit, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.TenantID, v.Endpoint, v.Limit, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListViolations(ctx context.Context, tenantID string, limit int) ([]*RateLimitViolation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, endpoint, req_limit, created_at
		FROM rate_limit_violations WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []*RateLimitViolation
	for rows.Next() {
		var v RateLimitViolation
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Endpoint, &v.Limit, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
