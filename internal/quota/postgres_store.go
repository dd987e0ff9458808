package quota

import (
	"context"
	"database/sql"
	"fmt"
)

// MigratePostgres creates the quota tables if they do not exist. Production
// deployments run the SQL migrations instead; this keeps tests and dev
// environments self-contained.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS resource_quotas (
			tenant_id     TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			usage_limit   BIGINT NOT NULL DEFAULT 0,
			used          BIGINT NOT NULL DEFAULT 0 CHECK (used >= 0),
			soft_limit    BIGINT NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, resource_type)
		)`,
		`CREATE TABLE IF NOT EXISTS quota_policies (
			tenant_id          TEXT NOT NULL,
			resource_type      TEXT NOT NULL,
			hard_limit         BIGINT NOT NULL,
			soft_limit         BIGINT NOT NULL,
			warning_threshold  DOUBLE PRECISION NOT NULL,
			critical_threshold DOUBLE PRECISION NOT NULL,
			auto_scale         BOOLEAN NOT NULL DEFAULT FALSE,
			auto_scale_factor  DOUBLE PRECISION NOT NULL DEFAULT 1.5,
			cost_per_unit      DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, resource_type)
		)`,
		`CREATE TABLE IF NOT EXISTS resource_alerts (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			alert_type    TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			current_usage BIGINT NOT NULL,
			usage_limit   BIGINT NOT NULL,
			threshold_pct DOUBLE PRECISION NOT NULL,
			message       TEXT NOT NULL DEFAULT '',
			resolved      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resource_alerts_tenant ON resource_alerts(tenant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			amount        BIGINT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_tenant ON usage_events(tenant_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate quota tables: %w", err)
		}
	}
	return nil
}

// PostgresLedgerStore is the PostgreSQL LedgerStore.
type PostgresLedgerStore struct {
	db *sql.DB
}

var _ LedgerStore = (*PostgresLedgerStore)(nil)

// NewPostgresLedgerStore creates a ledger store over an open database handle.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

func (s *PostgresLedgerStore) Get(ctx context.Context, tenantID string, rt ResourceType) (*ResourceQuota, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource_type, usage_limit, used, soft_limit, updated_at
		FROM resource_quotas WHERE tenant_id = $1 AND resource_type = $2`,
		tenantID, string(rt))

	var q ResourceQuota
	err := row.Scan(&q.TenantID, &q.ResourceType, &q.Limit, &q.Used, &q.SoftLimit, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}

func (s *PostgresLedgerStore) Upsert(ctx context.Context, q *ResourceQuota) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_quotas (tenant_id, resource_type, usage_limit, used, soft_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, resource_type) DO UPDATE
		SET usage_limit = EXCLUDED.usage_limit,
		    used = EXCLUDED.used,
		    soft_limit = EXCLUDED.soft_limit,
		    updated_at = EXCLUDED.updated_at`,
		q.TenantID, string(q.ResourceType), q.Limit, q.Used, q.SoftLimit, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert quota: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) ListByTenant(ctx context.Context, tenantID string) ([]*ResourceQuota, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, resource_type, usage_limit, used, soft_limit, updated_at
		FROM resource_quotas WHERE tenant_id = $1 ORDER BY resource_type`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()

	var out []*ResourceQuota
	for rows.Next() {
		var q ResourceQuota
		if err := rows.Scan(&q.TenantID, &q.ResourceType, &q.Limit, &q.Used, &q.SoftLimit, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// PostgresPolicyStore is the PostgreSQL PolicyStore.
type PostgresPolicyStore struct {
	db *sql.DB
}

var _ PolicyStore = (*PostgresPolicyStore)(nil)

// NewPostgresPolicyStore creates a policy store over an open database handle.
func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

const policyColumns = `tenant_id, resource_type, hard_limit, soft_limit,
	warning_threshold, critical_threshold, auto_scale, auto_scale_factor,
	cost_per_unit, created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }) (*QuotaPolicy, error) {
	var p QuotaPolicy
	err := row.Scan(&p.TenantID, &p.ResourceType, &p.HardLimit, &p.SoftLimit,
		&p.WarningThreshold, &p.CriticalThreshold, &p.AutoScale, &p.AutoScaleFactor,
		&p.CostPerUnit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresPolicyStore) Get(ctx context.Context, tenantID string, rt ResourceType) (*QuotaPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM quota_policies
		WHERE tenant_id = $1 AND resource_type = $2`,
		tenantID, string(rt))

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *PostgresPolicyStore) Create(ctx context.Context, p *QuotaPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_policies (`+policyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, resource_type) DO NOTHING`,
		p.TenantID, string(p.ResourceType), p.HardLimit, p.SoftLimit,
		p.WarningThreshold, p.CriticalThreshold, p.AutoScale, p.AutoScaleFactor,
		p.CostPerUnit, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	if n == 0 {
		return ErrPolicyExists
	}
	return nil
}

func (s *PostgresPolicyStore) Update(ctx context.Context, p *QuotaPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quota_policies
		SET hard_limit = $3, soft_limit = $4, warning_threshold = $5,
		    critical_threshold = $6, auto_scale = $7, auto_scale_factor = $8,
		    cost_per_unit = $9, updated_at = $10
		WHERE tenant_id = $1 AND resource_type = $2`,
		p.TenantID, string(p.ResourceType), p.HardLimit, p.SoftLimit,
		p.WarningThreshold, p.CriticalThreshold, p.AutoScale, p.AutoScaleFactor,
		p.CostPerUnit, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *PostgresPolicyStore) ListByTenant(ctx context.Context, tenantID string) ([]*QuotaPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+` FROM quota_policies
		WHERE tenant_id = $1 ORDER BY resource_type`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*QuotaPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgresAlertStore is the PostgreSQL AlertStore.
type PostgresAlertStore struct {
	db *sql.DB
}

var _ AlertStore = (*PostgresAlertStore)(nil)

// NewPostgresAlertStore creates an alert store over an open database handle.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

func (s *PostgresAlertStore) Create(ctx context.Context, a *ResourceAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_alerts (id, tenant_id, alert_type, resource_type,
			current_usage, usage_limit, threshold_pct, message, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TenantID, string(a.AlertType), string(a.ResourceType),
		a.CurrentUsage, a.Limit, a.ThresholdPct, a.Message, a.Resolved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) ListByTenant(ctx context.Context, tenantID string, unresolvedOnly bool, limit int) ([]*ResourceAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, tenant_id, alert_type, resource_type, current_usage,
			usage_limit, threshold_pct, message, resolved, created_at
		FROM resource_alerts WHERE tenant_id = $1`
	if unresolvedOnly {
		query += ` AND resolved = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*ResourceAlert
	for rows.Next() {
		var a ResourceAlert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AlertType, &a.ResourceType,
			&a.CurrentUsage, &a.Limit, &a.ThresholdPct, &a.Message, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresAlertStore) Resolve(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE resource_alerts SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// PostgresUsageStore is the PostgreSQL UsageStore.
type PostgresUsageStore struct {
	db *sql.DB
}

var _ UsageStore = (*PostgresUsageStore)(nil)

// NewPostgresUsageStore creates a usage store over an open database handle.
func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

func (s *PostgresUsageStore) Append(ctx context.Context, ev *UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, tenant_id, resource_type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.TenantID, string(ev.ResourceType), ev.Amount, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, resource_type, amount, created_at
		FROM usage_events WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	var out []*UsageEvent
	for rows.Next() {
		var ev UsageEvent
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ResourceType, &ev.Amount, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
