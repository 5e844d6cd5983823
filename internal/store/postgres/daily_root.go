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

type DailyRootRepo struct {
	pool *pgxpool.Pool
}

func NewDailyRootRepo(pool *pgxpool.Pool) *DailyRootRepo {
	return &DailyRootRepo{pool: pool}
}

const dailyRootColumns = `id, company_id, root_date::text, root_hash, event_count, created_at`

// Insert relies on the (company_id, root_date) constraint: a concurrent or
// repeated build returns the row that won.
func (r *DailyRootRepo) Insert(ctx context.Context, root *domain.DailyRoot) (*domain.DailyRoot, bool, error) {
	stored, err := scanDailyRoot(r.pool.QueryRow(ctx,
		`INSERT INTO daily_roots (id, company_id, root_date, root_hash, event_count, created_at)
		 VALUES ($1, $2, $3::text::date, $4, $5, $6)
		 ON CONFLICT (company_id, root_date) DO NOTHING
		 RETURNING `+dailyRootColumns,
		root.ID, root.CompanyID, root.Date, root.RootHash, root.EventCount, root.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("dailyRootRepo.Insert: %w", err)
	}

	existing, err := r.GetByDate(ctx, root.CompanyID, root.Date)
	if err != nil {
		return nil, false, fmt.Errorf("dailyRootRepo.Insert: %w", err)
	}

	return existing, false, nil
}

func (r *DailyRootRepo) GetByID(ctx context.Context, companyID, id uuid.UUID) (*domain.DailyRoot, error) {
	root, err := scanDailyRoot(r.pool.QueryRow(ctx,
		`SELECT `+dailyRootColumns+` FROM daily_roots WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dailyRootRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dailyRootRepo.GetByID: %w", err)
	}

	return root, nil
}

func (r *DailyRootRepo) GetByDate(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error) {
	root, err := scanDailyRoot(r.pool.QueryRow(ctx,
		`SELECT `+dailyRootColumns+` FROM daily_roots WHERE company_id = $1 AND root_date = $2::text::date`,
		companyID, date,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dailyRootRepo.GetByDate: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dailyRootRepo.GetByDate: %w", err)
	}

	return root, nil
}

// ListBetween returns roots with from <= date <= to, oldest first.
func (r *DailyRootRepo) ListBetween(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+dailyRootColumns+`
		 FROM daily_roots
		 WHERE company_id = $1 AND root_date BETWEEN $2::text::date AND $3::text::date
		 ORDER BY root_date`,
		companyID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("dailyRootRepo.ListBetween: %w", err)
	}
	defer rows.Close()

	var roots []*domain.DailyRoot
	for rows.Next() {
		root, err := scanDailyRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("dailyRootRepo.ListBetween: scan: %w", err)
		}
		roots = append(roots, root)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dailyRootRepo.ListBetween: rows: %w", err)
	}

	return roots, nil
}

func scanDailyRoot(row pgx.Row) (*domain.DailyRoot, error) {
	var d domain.DailyRoot
	if err := row.Scan(&d.ID, &d.CompanyID, &d.Date, &d.RootHash, &d.EventCount, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
