package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"momo-wallet/internal/domain"
	"momo-wallet/internal/repository"
)

const createProvidersTable = `
CREATE TABLE IF NOT EXISTS providers (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
`

type ProviderRepository struct {
	db *sql.DB
}

func NewProviderRepository(db *sql.DB) repository.ProviderRepository {
	return &ProviderRepository{db: db}
}

func (r *ProviderRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createProvidersTable); err != nil {
		return fmt.Errorf("create providers table: %w", err)
	}
	return nil
}

func (r *ProviderRepository) Seed(ctx context.Context, providers []domain.Provider) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	for _, p := range providers {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO providers (code, name)
VALUES (?, ?)
ON CONFLICT(code) DO UPDATE SET name=excluded.name`,
			p.Code,
			p.Name,
		); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *ProviderRepository) List(ctx context.Context) ([]domain.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT code, name
FROM providers
ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		var p domain.Provider
		if err := rows.Scan(&p.Code, &p.Name); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}

	return providers, rows.Err()
}

func (r *ProviderRepository) GetByCode(ctx context.Context, code string) (*domain.Provider, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT code, name
FROM providers
WHERE code=?`, code)

	var p domain.Provider
	if err := row.Scan(&p.Code, &p.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("provider not found")
		}
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	return &p, nil
}
