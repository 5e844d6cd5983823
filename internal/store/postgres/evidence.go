package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

// EvidenceRepo applies every status change as a guarded UPDATE, so a row can
// only move along the transitions domain.EvidenceStatus allows even under
// concurrent workers.
type EvidenceRepo struct {
	pool *pgxpool.Pool
}

func NewEvidenceRepo(pool *pgxpool.Pool) *EvidenceRepo {
	return &EvidenceRepo{pool: pool}
}

const evidenceColumns = `id, company_id, group_id, evidence_type, subject_ref, subject_hash, status,
	external_id, tsp_token, tsp_timestamp, sealed_artifact_ref, source_ref, file_name,
	retry_count, backoff_seconds, next_retry_at, error_message, terminal,
	created_at, updated_at, completed_at`

func (r *EvidenceRepo) GetOrCreate(ctx context.Context, e *domain.Evidence) (*domain.Evidence, bool, error) {
	stored, err := scanEvidence(r.pool.QueryRow(ctx,
		`INSERT INTO evidence (id, company_id, group_id, evidence_type, subject_ref, subject_hash,
		                       status, source_ref, file_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (group_id, evidence_type, subject_ref) DO NOTHING
		 RETURNING `+evidenceColumns,
		e.ID, e.CompanyID, e.GroupID, e.Type, e.SubjectRef, e.SubjectHash,
		e.Status, e.SourceRef, e.FileName, e.CreatedAt, e.UpdatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("evidenceRepo.GetOrCreate: %w", err)
	}

	existing, err := scanEvidence(r.pool.QueryRow(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE group_id = $1 AND evidence_type = $2 AND subject_ref = $3`,
		e.GroupID, e.Type, e.SubjectRef,
	))
	if err != nil {
		return nil, false, fmt.Errorf("evidenceRepo.GetOrCreate: existing: %w", err)
	}

	return existing, false, nil
}

func (r *EvidenceRepo) GetByID(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	e, err := scanEvidence(r.pool.QueryRow(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.GetByID: %w", err)
	}

	return e, nil
}

func (r *EvidenceRepo) GetBySubject(ctx context.Context, companyID uuid.UUID, typ domain.EvidenceType, subjectRef string) (*domain.Evidence, error) {
	e, err := scanEvidence(r.pool.QueryRow(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE company_id = $1 AND evidence_type = $2 AND subject_ref = $3
		 ORDER BY created_at
		 LIMIT 1`,
		companyID, typ, subjectRef,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceRepo.GetBySubject: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.GetBySubject: %w", err)
	}

	return e, nil
}

func (r *EvidenceRepo) MarkProcessing(ctx context.Context, companyID, id uuid.UUID, from ...domain.EvidenceStatus) (*domain.Evidence, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		if s.ValidTransition(domain.EvidenceStatusProcessing) {
			allowed = append(allowed, string(s))
		}
	}

	e, err := scanEvidence(r.pool.QueryRow(ctx,
		`UPDATE evidence SET status = 'processing', updated_at = now()
		 WHERE company_id = $1 AND id = $2 AND status = ANY($3::text[])
		 RETURNING `+evidenceColumns,
		companyID, id, allowed,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceRepo.MarkProcessing: %w", r.missOrTransition(ctx, companyID, id, domain.ErrInvalidTransition))
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.MarkProcessing: %w", err)
	}

	return e, nil
}

func (r *EvidenceRepo) MarkCompleted(ctx context.Context, companyID, id uuid.UUID, c domain.Completion) (*domain.Evidence, error) {
	e, err := scanEvidence(r.pool.QueryRow(ctx,
		`UPDATE evidence
		 SET status = 'completed', tsp_token = $3, tsp_timestamp = $4, sealed_artifact_ref = $5,
		     completed_at = $6, error_message = $7, next_retry_at = NULL, updated_at = now()
		 WHERE company_id = $1 AND id = $2 AND status = 'processing'
		 RETURNING `+evidenceColumns,
		companyID, id, c.Token, c.Timestamp, c.ArtifactRef, c.CompletedAt, c.Note,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceRepo.MarkCompleted: %w", r.missOrTransition(ctx, companyID, id, domain.ErrInvalidTransition))
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.MarkCompleted: %w", err)
	}

	return e, nil
}

func (r *EvidenceRepo) MarkFailed(ctx context.Context, companyID, id uuid.UUID, f domain.Failure) (*domain.Evidence, error) {
	e, err := scanEvidence(r.pool.QueryRow(ctx,
		`UPDATE evidence
		 SET status = 'failed', error_message = $3, terminal = $4,
		     retry_count = retry_count + CASE WHEN $5 THEN 1 ELSE 0 END,
		     backoff_seconds = CASE WHEN $6 > 0 THEN $6 ELSE backoff_seconds END,
		     next_retry_at = $7, updated_at = now()
		 WHERE company_id = $1 AND id = $2 AND status = 'processing'
		 RETURNING `+evidenceColumns,
		companyID, id, f.Reason, f.Terminal, f.CountAttempt, f.BackoffSeconds, f.NextRetryAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidenceRepo.MarkFailed: %w", r.missOrTransition(ctx, companyID, id, domain.ErrInvalidTransition))
	}
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.MarkFailed: %w", err)
	}

	return e, nil
}

func (r *EvidenceRepo) SetExternalID(ctx context.Context, companyID, id uuid.UUID, externalID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE evidence SET external_id = $3, updated_at = now() WHERE company_id = $1 AND id = $2`,
		companyID, id, externalID,
	)
	if err != nil {
		return fmt.Errorf("evidenceRepo.SetExternalID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("evidenceRepo.SetExternalID: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *EvidenceRepo) ReplaceSubject(ctx context.Context, companyID, id uuid.UUID, hash, fileName, sourceRef string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE evidence SET subject_hash = $3, file_name = $4, source_ref = $5, updated_at = now()
		 WHERE company_id = $1 AND id = $2 AND status <> 'completed'`,
		companyID, id, hash, fileName, sourceRef,
	)
	if err != nil {
		return fmt.Errorf("evidenceRepo.ReplaceSubject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("evidenceRepo.ReplaceSubject: %w", r.missOrTransition(ctx, companyID, id, domain.ErrConflict))
	}

	return nil
}

// ListRetryable returns non-terminal failed rows that are due and below the
// retry limit, oldest first. A NULL next_retry_at is due immediately.
func (r *EvidenceRepo) ListRetryable(ctx context.Context, companyID uuid.UUID, now time.Time, maxRetries int) ([]*domain.Evidence, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE company_id = $1 AND status = 'failed' AND NOT terminal AND retry_count < $3
		   AND (next_retry_at IS NULL OR next_retry_at <= $2)
		 ORDER BY created_at
		 LIMIT 500`,
		companyID, now, maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.ListRetryable: %w", err)
	}
	defer rows.Close()

	return scanEvidenceRows(rows, "evidenceRepo.ListRetryable")
}

func (r *EvidenceRepo) CountExhausted(ctx context.Context, companyID uuid.UUID, maxRetries int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM evidence WHERE company_id = $1 AND status = 'failed' AND retry_count >= $2`,
		companyID, maxRetries,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("evidenceRepo.CountExhausted: %w", err)
	}

	return n, nil
}

func (r *EvidenceRepo) ListProcessingBefore(ctx context.Context, companyID uuid.UUID, before time.Time) ([]*domain.Evidence, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE company_id = $1 AND status = 'processing' AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT 500`,
		companyID, before,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.ListProcessingBefore: %w", err)
	}
	defer rows.Close()

	return scanEvidenceRows(rows, "evidenceRepo.ListProcessingBefore")
}

// List filters by status unless status is empty. Newest first.
func (r *EvidenceRepo) List(ctx context.Context, companyID uuid.UUID, status domain.EvidenceStatus, limit, offset int) ([]*domain.Evidence, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE company_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3 OFFSET $4`,
		companyID, string(status), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.List: %w", err)
	}
	defer rows.Close()

	return scanEvidenceRows(rows, "evidenceRepo.List")
}

func (r *EvidenceRepo) ListBySubjects(ctx context.Context, companyID uuid.UUID, refs []string) ([]*domain.Evidence, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE company_id = $1 AND subject_ref = ANY($2::text[])
		 ORDER BY created_at`,
		companyID, refs,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.ListBySubjects: %w", err)
	}
	defer rows.Close()

	return scanEvidenceRows(rows, "evidenceRepo.ListBySubjects")
}

// missOrTransition tells a missing row apart from a guard that did not match.
func (r *EvidenceRepo) missOrTransition(ctx context.Context, companyID, id uuid.UUID, guardErr error) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM evidence WHERE company_id = $1 AND id = $2)`,
		companyID, id,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return guardErr
}

func scanEvidence(row pgx.Row) (*domain.Evidence, error) {
	var e domain.Evidence
	if err := row.Scan(
		&e.ID, &e.CompanyID, &e.GroupID, &e.Type, &e.SubjectRef, &e.SubjectHash, &e.Status,
		&e.ExternalID, &e.TSPToken, &e.TSPTimestamp, &e.SealedArtifactRef, &e.SourceRef, &e.FileName,
		&e.RetryCount, &e.BackoffSeconds, &e.NextRetryAt, &e.ErrorMessage, &e.Terminal,
		&e.CreatedAt, &e.UpdatedAt, &e.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvidenceRows(rows pgx.Rows, caller string) ([]*domain.Evidence, error) {
	var out []*domain.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return out, nil
}
