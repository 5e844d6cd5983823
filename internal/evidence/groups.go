package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gosuda/timeproof/internal/auditlog"
	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/qtsp"
)

// GroupManager owns the per-company case file and its monthly evidence groups.
// Local rows are created with upsert-on-conflict; the provider's id is attached
// afterwards with a compare-and-swap, so concurrent callers converge on one id.
type GroupManager struct {
	companies   domain.CompanyRepository
	caseFiles   domain.CaseFileRepository
	groups      domain.EvidenceGroupRepository
	client      qtsp.Client
	audit       *auditlog.Recorder
	callTimeout time.Duration
	now         func() time.Time

	flight singleflight.Group
}

func NewGroupManager(
	companies domain.CompanyRepository,
	caseFiles domain.CaseFileRepository,
	groups domain.EvidenceGroupRepository,
	client qtsp.Client,
	audit *auditlog.Recorder,
	callTimeout time.Duration,
) *GroupManager {
	return &GroupManager{
		companies:   companies,
		caseFiles:   caseFiles,
		groups:      groups,
		client:      client,
		audit:       audit,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

func CaseFileName(companyName string) string {
	return "Registro Horario - " + companyName
}

func GroupName(yearMonth string) string {
	return "Fichajes " + yearMonth
}

// GetOrCreate returns the local evidence group for (company, yearMonth),
// creating the case file and group rows if needed. It does not contact the
// provider; see EnsureRemote.
func (m *GroupManager) GetOrCreate(ctx context.Context, companyID uuid.UUID, yearMonth string) (*domain.EvidenceGroup, error) {
	if _, err := domain.ParseYearMonth("year_month", yearMonth); err != nil {
		return nil, err
	}

	cf, err := m.caseFile(ctx, companyID)
	if err != nil {
		return nil, err
	}

	g, err := m.groups.GetOrCreate(ctx, &domain.EvidenceGroup{
		ID:         uuid.New(),
		CaseFileID: cf.ID,
		CompanyID:  companyID,
		YearMonth:  yearMonth,
		Name:       GroupName(yearMonth),
		CreatedAt:  m.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("evidence.GroupManager.GetOrCreate: %w", err)
	}
	return g, nil
}

func (m *GroupManager) Group(ctx context.Context, id uuid.UUID) (*domain.EvidenceGroup, error) {
	g, err := m.groups.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("evidence.GroupManager.Group: %w", err)
	}
	return g, nil
}

// EnsureRemote makes sure the group and its case file exist at the provider
// and returns the group with ExternalID set.
func (m *GroupManager) EnsureRemote(ctx context.Context, g *domain.EvidenceGroup) (*domain.EvidenceGroup, error) {
	if g.ExternalID != "" {
		return g, nil
	}

	cf, err := m.caseFiles.GetByID(ctx, g.CaseFileID)
	if err != nil {
		return nil, fmt.Errorf("evidence.GroupManager.EnsureRemote: case file: %w", err)
	}
	cf, err = m.ensureCaseFile(ctx, cf)
	if err != nil {
		return nil, err
	}

	v, err, _ := m.flight.Do("group:"+g.ID.String(), func() (any, error) {
		companyID := g.CompanyID
		var externalID string
		err := m.audit.Track(ctx, auditlog.Call{
			CompanyID: &companyID,
			Action:    domain.AuditActionCreateEvidenceGroup,
			Details:   map[string]any{"year_month": g.YearMonth, "case_file": cf.ExternalID},
		}, func(ctx context.Context, _ *auditlog.Call) error {
			callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
			defer cancel()

			id, err := m.client.CreateEvidenceGroup(callCtx, cf.ExternalID, g.Name)
			externalID = id
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("evidence.GroupManager.EnsureRemote: create group: %w", err)
		}

		stored, err := m.groups.AttachExternalID(ctx, g.ID, externalID)
		if err != nil {
			return nil, fmt.Errorf("evidence.GroupManager.EnsureRemote: attach: %w", err)
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.EvidenceGroup), nil
}

func (m *GroupManager) caseFile(ctx context.Context, companyID uuid.UUID) (*domain.CaseFile, error) {
	company, err := m.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("evidence.GroupManager: company: %w", err)
	}

	cf, err := m.caseFiles.GetOrCreate(ctx, &domain.CaseFile{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      CaseFileName(company.Name),
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("evidence.GroupManager: case file: %w", err)
	}
	return cf, nil
}

func (m *GroupManager) ensureCaseFile(ctx context.Context, cf *domain.CaseFile) (*domain.CaseFile, error) {
	if cf.ExternalID != "" {
		return cf, nil
	}

	v, err, _ := m.flight.Do("case_file:"+cf.ID.String(), func() (any, error) {
		companyID := cf.CompanyID
		var externalID string
		err := m.audit.Track(ctx, auditlog.Call{
			CompanyID: &companyID,
			Action:    domain.AuditActionCreateCaseFile,
			Details:   map[string]any{"name": cf.Name},
		}, func(ctx context.Context, _ *auditlog.Call) error {
			callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
			defer cancel()

			id, err := m.client.CreateCaseFile(callCtx, cf.Name, "Evidencias de fichaje")
			externalID = id
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("evidence.GroupManager: create case file: %w", err)
		}

		stored, err := m.caseFiles.AttachExternalID(ctx, cf.ID, externalID)
		if err != nil {
			return nil, fmt.Errorf("evidence.GroupManager: attach case file: %w", err)
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.CaseFile), nil
}
