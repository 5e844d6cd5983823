package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/evidence"
	"github.com/gosuda/timeproof/internal/export"
	"github.com/gosuda/timeproof/internal/health"
	"github.com/gosuda/timeproof/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject company/role into context for DoCtx
// ---------------------------------------------------------------------------

func companyCtx(companyID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyCompanyID, companyID)
	return ctx
}

// ---------------------------------------------------------------------------
// Mock RootBuilder
// ---------------------------------------------------------------------------

type mockRootBuilder struct {
	buildFunc  func(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, bool, error)
	verifyFunc func(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error)
	listFunc   func(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error)
}

func (m *mockRootBuilder) Build(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, bool, error) {
	return m.buildFunc(ctx, companyID, date)
}

func (m *mockRootBuilder) Verify(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error) {
	return m.verifyFunc(ctx, companyID, date)
}

func (m *mockRootBuilder) List(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error) {
	return m.listFunc(ctx, companyID, from, to)
}

// ---------------------------------------------------------------------------
// Mock Notarizer
// ---------------------------------------------------------------------------

type mockNotarizer struct {
	submitFunc       func(ctx context.Context, companyID, rootID uuid.UUID) (*domain.Evidence, error)
	sealFunc         func(ctx context.Context, companyID uuid.UUID, pdf []byte, month, fileName string) (*domain.Evidence, error)
	retryFunc        func(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error)
	retryFailedFunc  func(ctx context.Context, companyID uuid.UUID) (evidence.RetryReport, error)
	checkPendingFunc func(ctx context.Context, companyID uuid.UUID) (evidence.CheckReport, error)
	getFunc          func(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error)
	listFunc         func(ctx context.Context, companyID uuid.UUID, status domain.EvidenceStatus, limit, offset int) ([]*domain.Evidence, error)
}

func (m *mockNotarizer) SubmitDailyRoot(ctx context.Context, companyID, rootID uuid.UUID) (*domain.Evidence, error) {
	return m.submitFunc(ctx, companyID, rootID)
}

func (m *mockNotarizer) SealPDF(ctx context.Context, companyID uuid.UUID, pdf []byte, month, fileName string) (*domain.Evidence, error) {
	return m.sealFunc(ctx, companyID, pdf, month, fileName)
}

func (m *mockNotarizer) Retry(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	return m.retryFunc(ctx, companyID, id)
}

func (m *mockNotarizer) RetryFailed(ctx context.Context, companyID uuid.UUID) (evidence.RetryReport, error) {
	return m.retryFailedFunc(ctx, companyID)
}

func (m *mockNotarizer) CheckPending(ctx context.Context, companyID uuid.UUID) (evidence.CheckReport, error) {
	return m.checkPendingFunc(ctx, companyID)
}

func (m *mockNotarizer) Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	return m.getFunc(ctx, companyID, id)
}

func (m *mockNotarizer) List(ctx context.Context, companyID uuid.UUID, status domain.EvidenceStatus, limit, offset int) ([]*domain.Evidence, error) {
	return m.listFunc(ctx, companyID, status, limit, offset)
}

// ---------------------------------------------------------------------------
// Mock Exporter
// ---------------------------------------------------------------------------

type mockExporter struct {
	exportFunc func(ctx context.Context, req export.Request) (*export.Result, error)
	getFunc    func(ctx context.Context, companyID, id uuid.UUID) (*domain.Package, error)
	listFunc   func(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.Package, error)
	verifyFunc func(ctx context.Context, companyID, packageID uuid.UUID) (*export.VerifyReport, error)
}

func (m *mockExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return m.exportFunc(ctx, req)
}

func (m *mockExporter) Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Package, error) {
	return m.getFunc(ctx, companyID, id)
}

func (m *mockExporter) List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.Package, error) {
	return m.listFunc(ctx, companyID, limit, offset)
}

func (m *mockExporter) Verify(ctx context.Context, companyID, packageID uuid.UUID) (*export.VerifyReport, error) {
	return m.verifyFunc(ctx, companyID, packageID)
}

// ---------------------------------------------------------------------------
// Mock HealthMonitor
// ---------------------------------------------------------------------------

type mockMonitor struct {
	probeFunc     func(ctx context.Context) (health.Sample, bool, error)
	currentFunc   func(ctx context.Context) (health.Snapshot, error)
	historyFunc   func(ctx context.Context) ([]health.Sample, error)
	setAlertsFunc func(ctx context.Context, enabled bool) error
	resetFunc     func(ctx context.Context) error
}

func (m *mockMonitor) Probe(ctx context.Context) (health.Sample, bool, error) {
	return m.probeFunc(ctx)
}

func (m *mockMonitor) Current(ctx context.Context) (health.Snapshot, error) {
	return m.currentFunc(ctx)
}

func (m *mockMonitor) History(ctx context.Context) ([]health.Sample, error) {
	return m.historyFunc(ctx)
}

func (m *mockMonitor) SetAlertsEnabled(ctx context.Context, enabled bool) error {
	return m.setAlertsFunc(ctx, enabled)
}

func (m *mockMonitor) Reset(ctx context.Context) error {
	return m.resetFunc(ctx)
}

// ---------------------------------------------------------------------------
// Mock AuditLog
// ---------------------------------------------------------------------------

type mockAuditLog struct {
	listFunc           func(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.AuditEntry, error)
	listByEvidenceFunc func(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*domain.AuditEntry, error)
}

func (m *mockAuditLog) List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.AuditEntry, error) {
	return m.listFunc(ctx, companyID, limit, offset)
}

func (m *mockAuditLog) ListByEvidence(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*domain.AuditEntry, error) {
	return m.listByEvidenceFunc(ctx, companyID, evidenceID)
}
