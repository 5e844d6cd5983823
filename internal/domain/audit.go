package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionNotarize            AuditAction = "notarize"
	AuditActionSeal                AuditAction = "seal"
	AuditActionStatusCheck         AuditAction = "status_check"
	AuditActionRetry               AuditAction = "retry"
	AuditActionHealthCheck         AuditAction = "health_check"
	AuditActionCreateCaseFile      AuditAction = "create_case_file"
	AuditActionCreateEvidenceGroup AuditAction = "create_evidence_group"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusWarning AuditStatus = "warning"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records one call to the provider. Append-only.
type AuditEntry struct {
	ID           uuid.UUID
	CompanyID    *uuid.UUID // nil for health probes
	EvidenceID   *uuid.UUID
	Action       AuditAction
	Status       AuditStatus
	DurationMS   int64
	ErrorMessage string
	Details      map[string]any
	CreatedAt    time.Time
}

type AuditRepository interface {
	Record(ctx context.Context, entry *AuditEntry) error
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*AuditEntry, error)
	ListByEvidence(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*AuditEntry, error)
}
