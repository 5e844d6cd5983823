package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CaseFile is the company-scoped container under which the provider organizes
// evidence. One per company.
type CaseFile struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	Name       string
	ExternalID string
	CreatedAt  time.Time
}

// EvidenceGroup buckets a case file's evidence by month. One per
// (CaseFileID, YearMonth).
type EvidenceGroup struct {
	ID         uuid.UUID
	CaseFileID uuid.UUID
	CompanyID  uuid.UUID
	YearMonth  string
	Name       string
	ExternalID string
	CreatedAt  time.Time
}

type CaseFileRepository interface {
	// GetOrCreate upserts on company_id and returns the stored row.
	GetOrCreate(ctx context.Context, cf *CaseFile) (*CaseFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CaseFile, error)
	// AttachExternalID sets external_id if it is still empty and returns the
	// stored row, so concurrent callers converge on the first id written.
	AttachExternalID(ctx context.Context, id uuid.UUID, externalID string) (*CaseFile, error)
}

type EvidenceGroupRepository interface {
	// GetOrCreate upserts on (case_file_id, year_month) and returns the stored row.
	GetOrCreate(ctx context.Context, g *EvidenceGroup) (*EvidenceGroup, error)
	GetByID(ctx context.Context, id uuid.UUID) (*EvidenceGroup, error)
	AttachExternalID(ctx context.Context, id uuid.UUID, externalID string) (*EvidenceGroup, error)
}
