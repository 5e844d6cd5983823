package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

type CompanyRepo struct {
	pool *pgxpool.Pool
}

func NewCompanyRepo(pool *pgxpool.Pool) *CompanyRepo {
	return &CompanyRepo{pool: pool}
}

func (r *CompanyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Company, error) {
	var c domain.Company

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, tax_id, timezone FROM companies WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.TaxID, &c.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("companyRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("companyRepo.GetByID: %w", err)
	}

	return &c, nil
}

// List returns the active companies.
func (r *CompanyRepo) List(ctx context.Context) ([]*domain.Company, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, tax_id, timezone FROM companies WHERE active ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("companyRepo.List: %w", err)
	}
	defer rows.Close()

	var companies []*domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID, &c.Timezone); err != nil {
			return nil, fmt.Errorf("companyRepo.List: scan: %w", err)
		}
		companies = append(companies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("companyRepo.List: rows: %w", err)
	}

	return companies, nil
}
