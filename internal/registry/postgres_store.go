package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the PostgreSQL Store.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a service store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the services table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS services (
			name       TEXT PRIMARY KEY,
			base_url   TEXT NOT NULL,
			healthy    BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate services table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, svc *Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (name, base_url, healthy, created_at, updated_at)
		VALUES (lower($1), $2, $3, $4, $5)`,
		svc.Name, svc.BaseURL, svc.Healthy, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrServiceExists
		}
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, base_url, healthy, created_at, updated_at
		FROM services WHERE name = lower($1)`, name)

	var svc Service
	err := row.Scan(&svc.Name, &svc.BaseURL, &svc.Healthy, &svc.CreatedAt, &svc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &svc, nil
}

func (s *PostgresStore) Update(ctx context.Context, svc *Service) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET base_url = $2, healthy = $3, updated_at = $4
		WHERE name = lower($1)`,
		svc.Name, svc.BaseURL, svc.Healthy, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE name = lower($1)`, name)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, base_url, healthy, created_at, updated_at
		FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.Name, &svc.BaseURL, &svc.Healthy, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, &svc)
	}
	return out, rows.Err()
}
