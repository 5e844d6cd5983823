package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

// AuditRepo writes the provider call log. The table rejects UPDATE and
// DELETE, so this type only inserts and reads.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("auditRepo.Record: marshal details: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO qtsp_audit_log (id, company_id, evidence_id, action, status, duration_ms, error_message, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.CompanyID, entry.EvidenceID, entry.Action, entry.Status,
		entry.DurationMS, entry.ErrorMessage, raw, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.Record: %w", err)
	}

	return nil
}

func (r *AuditRepo) ListByCompany(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, evidence_id, action, status, duration_ms, error_message, details, created_at
		 FROM qtsp_audit_log WHERE company_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		companyID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListByCompany: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows, "auditRepo.ListByCompany")
}

func (r *AuditRepo) ListByEvidence(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, evidence_id, action, status, duration_ms, error_message, details, created_at
		 FROM qtsp_audit_log WHERE company_id = $1 AND evidence_id = $2
		 ORDER BY created_at DESC, id`,
		companyID, evidenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListByEvidence: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows, "auditRepo.ListByEvidence")
}

func scanAuditEntries(rows pgx.Rows, caller string) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details []byte

		if err := rows.Scan(
			&e.ID, &e.CompanyID, &e.EvidenceID, &e.Action, &e.Status,
			&e.DurationMS, &e.ErrorMessage, &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("%s: unmarshal details: %w", caller, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return entries, nil
}
