package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/evidence"
	"github.com/gosuda/timeproof/internal/export"
	"github.com/gosuda/timeproof/internal/health"
)

// RootBuilder abstracts the daily root operations for handler testing.
// *dailyroot.Builder satisfies this interface.
type RootBuilder interface {
	Build(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, bool, error)
	Verify(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error)
	List(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error)
}

// Notarizer abstracts the notarization pipeline for handler testing.
// *evidence.Pipeline satisfies this interface.
type Notarizer interface {
	SubmitDailyRoot(ctx context.Context, companyID, rootID uuid.UUID) (*domain.Evidence, error)
	SealPDF(ctx context.Context, companyID uuid.UUID, pdf []byte, month, fileName string) (*domain.Evidence, error)
	Retry(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error)
	RetryFailed(ctx context.Context, companyID uuid.UUID) (evidence.RetryReport, error)
	CheckPending(ctx context.Context, companyID uuid.UUID) (evidence.CheckReport, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error)
	List(ctx context.Context, companyID uuid.UUID, status domain.EvidenceStatus, limit, offset int) ([]*domain.Evidence, error)
}

// Exporter abstracts the package assembler for handler testing.
// *export.Assembler satisfies this interface.
type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Package, error)
	List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.Package, error)
	Verify(ctx context.Context, companyID, packageID uuid.UUID) (*export.VerifyReport, error)
}

// HealthMonitor abstracts the provider health monitor for handler testing.
// *health.Monitor satisfies this interface.
type HealthMonitor interface {
	Probe(ctx context.Context) (health.Sample, bool, error)
	Current(ctx context.Context) (health.Snapshot, error)
	History(ctx context.Context) ([]health.Sample, error)
	SetAlertsEnabled(ctx context.Context, enabled bool) error
	Reset(ctx context.Context) error
}

// AuditLog abstracts the audit log reader for handler testing.
// *auditlog.Recorder satisfies this interface.
type AuditLog interface {
	List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.AuditEntry, error)
	ListByEvidence(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*domain.AuditEntry, error)
}
