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

type CaseFileRepo struct {
	pool *pgxpool.Pool
}

func NewCaseFileRepo(pool *pgxpool.Pool) *CaseFileRepo {
	return &CaseFileRepo{pool: pool}
}

const caseFileColumns = `id, company_id, name, COALESCE(external_id, ''), created_at`

// GetOrCreate upserts on company_id. The no-op update makes RETURNING yield
// the existing row on conflict.
func (r *CaseFileRepo) GetOrCreate(ctx context.Context, cf *domain.CaseFile) (*domain.CaseFile, error) {
	stored, err := scanCaseFile(r.pool.QueryRow(ctx,
		`INSERT INTO case_files (id, company_id, name, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (company_id) DO UPDATE SET company_id = EXCLUDED.company_id
		 RETURNING `+caseFileColumns,
		cf.ID, cf.CompanyID, cf.Name, cf.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("caseFileRepo.GetOrCreate: %w", err)
	}

	return stored, nil
}

func (r *CaseFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CaseFile, error) {
	cf, err := scanCaseFile(r.pool.QueryRow(ctx,
		`SELECT `+caseFileColumns+` FROM case_files WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("caseFileRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("caseFileRepo.GetByID: %w", err)
	}

	return cf, nil
}

// AttachExternalID writes externalID only while the column is still NULL and
// returns the stored row either way.
func (r *CaseFileRepo) AttachExternalID(ctx context.Context, id uuid.UUID, externalID string) (*domain.CaseFile, error) {
	_, err := r.pool.Exec(ctx,
		`UPDATE case_files SET external_id = $1 WHERE id = $2 AND external_id IS NULL`,
		externalID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("caseFileRepo.AttachExternalID: %w", err)
	}

	cf, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("caseFileRepo.AttachExternalID: %w", err)
	}

	return cf, nil
}

func scanCaseFile(row pgx.Row) (*domain.CaseFile, error) {
	var cf domain.CaseFile
	if err := row.Scan(&cf.ID, &cf.CompanyID, &cf.Name, &cf.ExternalID, &cf.CreatedAt); err != nil {
		return nil, err
	}
	return &cf, nil
}

type EvidenceGroupRepo struct {
	pool *pgxpool.Pool
}

func NewEvidenceGroupRepo(pool *pgxpool.Pool) *EvidenceGroupRepo {
	return &EvidenceGroupRepo{pool: pool}
}

const evidenceGroupColumns = `id, case_file_id, company_id, year_month, name, COALESCE(external_id, ''), created_at`

func (r *EvidenceGroupRepo) GetOrCreate(ctx context.Context, g *domain.EvidenceGroup) (*domain.EvidenceGroup, error) {
	stored, err := scanEvidenceGroup(r.pool.QueryRow(ctx,
		`INSERT INTO evidence_groups (id, case_file_id, company_id, year_month, name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (case_file_id, year_month) DO UPDATE SET year_month = EXCLUDED.year_month
		 RETURNING `+evidenceGroupColumns,
		g.ID, g.CaseFileID, g.CompanyID, g.YearMonth, g.Name, g.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("evidenceGroupRepo.GetOrCreate: %w", err)
	}

	return stored, nil
}

func (r *EvidenceGroupRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EvidenceGroup, error) {
	g, err := scanEvidenceGroup(r.pool.QueryRow(ctx,
		`SELECT `+evidenceGroupColumns+` FROM evidence_groups WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceGroupRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceGroupRepo.GetByID: %w", err)
	}

	return g, nil
}

func (r *EvidenceGroupRepo) AttachExternalID(ctx context.Context, id uuid.UUID, externalID string) (*domain.EvidenceGroup, error) {
	_, err := r.pool.Exec(ctx,
		`UPDATE evidence_groups SET external_id = $1 WHERE id = $2 AND external_id IS NULL`,
		externalID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceGroupRepo.AttachExternalID: %w", err)
	}

	g, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("evidenceGroupRepo.AttachExternalID: %w", err)
	}

	return g, nil
}

func scanEvidenceGroup(row pgx.Row) (*domain.EvidenceGroup, error) {
	var g domain.EvidenceGroup
	if err := row.Scan(&g.ID, &g.CaseFileID, &g.CompanyID, &g.YearMonth, &g.Name, &g.ExternalID, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
