package evidence_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/qtsp"
)

// ---------------------------------------------------------------------------
// Stateful in-memory repositories
// ---------------------------------------------------------------------------

type memCompanies struct {
	companies map[uuid.UUID]*domain.Company
}

func (m *memCompanies) GetByID(_ context.Context, id uuid.UUID) (*domain.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *memCompanies) List(context.Context) ([]*domain.Company, error) {
	var out []*domain.Company
	for _, c := range m.companies {
		out = append(out, c)
	}
	return out, nil
}

type memCaseFiles struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.CaseFile // by company
}

func (m *memCaseFiles) GetOrCreate(_ context.Context, cf *domain.CaseFile) (*domain.CaseFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[cf.CompanyID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *cf
	m.rows[cf.CompanyID] = &cp
	out := cp
	return &out, nil
}

func (m *memCaseFiles) GetByID(_ context.Context, id uuid.UUID) (*domain.CaseFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cf := range m.rows {
		if cf.ID == id {
			cp := *cf
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCaseFiles) AttachExternalID(_ context.Context, id uuid.UUID, externalID string) (*domain.CaseFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cf := range m.rows {
		if cf.ID == id {
			if cf.ExternalID == "" {
				cf.ExternalID = externalID
			}
			cp := *cf
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memGroups struct {
	mu   sync.Mutex
	rows map[string]*domain.EvidenceGroup // case_file/year_month
}

func (m *memGroups) GetOrCreate(_ context.Context, g *domain.EvidenceGroup) (*domain.EvidenceGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := g.CaseFileID.String() + "/" + g.YearMonth
	if existing, ok := m.rows[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *g
	m.rows[k] = &cp
	out := cp
	return &out, nil
}

func (m *memGroups) GetByID(_ context.Context, id uuid.UUID) (*domain.EvidenceGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.rows {
		if g.ID == id {
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memGroups) AttachExternalID(_ context.Context, id uuid.UUID, externalID string) (*domain.EvidenceGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.rows {
		if g.ID == id {
			if g.ExternalID == "" {
				g.ExternalID = externalID
			}
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memRoots struct {
	mu    sync.Mutex
	roots map[uuid.UUID]*domain.DailyRoot
}

func (m *memRoots) Insert(_ context.Context, r *domain.DailyRoot) (*domain.DailyRoot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roots {
		if existing.CompanyID == r.CompanyID && existing.Date == r.Date {
			return existing, false, nil
		}
	}
	m.roots[r.ID] = r
	return r, true, nil
}

func (m *memRoots) GetByID(_ context.Context, companyID, id uuid.UUID) (*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roots[id]
	if !ok || r.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRoots) GetByDate(_ context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roots {
		if r.CompanyID == companyID && r.Date == date {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRoots) ListBetween(_ context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DailyRoot
	for _, r := range m.roots {
		if r.CompanyID == companyID && r.Date >= from && r.Date <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

// memEvidence mirrors the guarded UPDATEs of the Postgres repository.
type memEvidence struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Evidence
	now  func() time.Time
}

func newMemEvidence(now func() time.Time) *memEvidence {
	return &memEvidence{rows: make(map[uuid.UUID]*domain.Evidence), now: now}
}

func (m *memEvidence) copyOf(e *domain.Evidence) *domain.Evidence {
	cp := *e
	return &cp
}

func (m *memEvidence) GetOrCreate(_ context.Context, e *domain.Evidence) (*domain.Evidence, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.GroupID == e.GroupID && row.Type == e.Type && row.SubjectRef == e.SubjectRef {
			return m.copyOf(row), false, nil
		}
	}
	m.rows[e.ID] = m.copyOf(e)
	return m.copyOf(e), true, nil
}

func (m *memEvidence) GetByID(_ context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return m.copyOf(row), nil
}

func (m *memEvidence) GetBySubject(_ context.Context, companyID uuid.UUID, typ domain.EvidenceType, ref string) (*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.CompanyID == companyID && row.Type == typ && row.SubjectRef == ref {
			return m.copyOf(row), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memEvidence) MarkProcessing(_ context.Context, companyID, id uuid.UUID, from ...domain.EvidenceStatus) (*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	for _, f := range from {
		if row.Status == f && f.ValidTransition(domain.EvidenceStatusProcessing) {
			row.Status = domain.EvidenceStatusProcessing
			row.UpdatedAt = m.now()
			return m.copyOf(row), nil
		}
	}
	return nil, domain.ErrInvalidTransition
}

func (m *memEvidence) MarkCompleted(_ context.Context, companyID, id uuid.UUID, c domain.Completion) (*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	if row.Status != domain.EvidenceStatusProcessing {
		return nil, domain.ErrInvalidTransition
	}
	ts := c.Timestamp
	done := c.CompletedAt
	row.Status = domain.EvidenceStatusCompleted
	row.TSPToken = c.Token
	row.TSPTimestamp = &ts
	row.SealedArtifactRef = c.ArtifactRef
	row.CompletedAt = &done
	row.ErrorMessage = c.Note
	row.NextRetryAt = nil
	row.UpdatedAt = m.now()
	return m.copyOf(row), nil
}

func (m *memEvidence) MarkFailed(_ context.Context, companyID, id uuid.UUID, f domain.Failure) (*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	if row.Status != domain.EvidenceStatusProcessing {
		return nil, domain.ErrInvalidTransition
	}
	row.Status = domain.EvidenceStatusFailed
	row.ErrorMessage = f.Reason
	row.Terminal = f.Terminal
	if f.CountAttempt {
		row.RetryCount++
	}
	if f.BackoffSeconds > 0 {
		row.BackoffSeconds = f.BackoffSeconds
	}
	row.NextRetryAt = f.NextRetryAt
	row.UpdatedAt = m.now()
	return m.copyOf(row), nil
}

func (m *memEvidence) SetExternalID(_ context.Context, companyID, id uuid.UUID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return domain.ErrNotFound
	}
	row.ExternalID = externalID
	row.UpdatedAt = m.now()
	return nil
}

func (m *memEvidence) ReplaceSubject(_ context.Context, companyID, id uuid.UUID, hash, fileName, sourceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.CompanyID != companyID {
		return domain.ErrNotFound
	}
	if row.Status == domain.EvidenceStatusCompleted {
		return domain.ErrConflict
	}
	row.SubjectHash, row.FileName, row.SourceRef = hash, fileName, sourceRef
	return nil
}

func (m *memEvidence) ListRetryable(_ context.Context, companyID uuid.UUID, now time.Time, maxRetries int) ([]*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Evidence
	for _, row := range m.rows {
		if row.CompanyID == companyID && row.Status == domain.EvidenceStatusFailed && !row.Terminal &&
			row.RetryCount < maxRetries && (row.NextRetryAt == nil || !row.NextRetryAt.After(now)) {
			out = append(out, m.copyOf(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memEvidence) CountExhausted(_ context.Context, companyID uuid.UUID, maxRetries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if row.CompanyID == companyID && row.Status == domain.EvidenceStatusFailed && row.RetryCount >= maxRetries {
			n++
		}
	}
	return n, nil
}

func (m *memEvidence) ListProcessingBefore(_ context.Context, companyID uuid.UUID, before time.Time) ([]*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Evidence
	for _, row := range m.rows {
		if row.CompanyID == companyID && row.Status == domain.EvidenceStatusProcessing && row.UpdatedAt.Before(before) {
			out = append(out, m.copyOf(row))
		}
	}
	return out, nil
}

func (m *memEvidence) List(_ context.Context, companyID uuid.UUID, status domain.EvidenceStatus, _, _ int) ([]*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Evidence
	for _, row := range m.rows {
		if row.CompanyID == companyID && (status == "" || row.Status == status) {
			out = append(out, m.copyOf(row))
		}
	}
	return out, nil
}

func (m *memEvidence) ListBySubjects(_ context.Context, companyID uuid.UUID, refs []string) ([]*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(refs))
	for _, r := range refs {
		want[r] = true
	}
	var out []*domain.Evidence
	for _, row := range m.rows {
		if row.CompanyID == companyID && want[row.SubjectRef] {
			out = append(out, m.copyOf(row))
		}
	}
	return out, nil
}

func (m *memEvidence) only() *domain.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		return m.copyOf(row)
	}
	return nil
}

func (m *memEvidence) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *memAudit) Record(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) ListByCompany(context.Context, uuid.UUID, int, int) ([]*domain.AuditEntry, error) {
	return m.all(), nil
}

func (m *memAudit) ListByEvidence(_ context.Context, _, evidenceID uuid.UUID) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	for _, e := range m.all() {
		if e.EvidenceID != nil && *e.EvidenceID == evidenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) all() []*domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.AuditEntry(nil), m.entries...)
}

func (m *memAudit) countAction(a domain.AuditAction) int {
	n := 0
	for _, e := range m.all() {
		if e.Action == a {
			n++
		}
	}
	return n
}

type memArtifacts struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memArtifacts) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memArtifacts) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type memPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (m *memPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channel] = append(m.messages[channel], payload)
	return nil
}

// ---------------------------------------------------------------------------
// Mock provider client
// ---------------------------------------------------------------------------

type mockClient struct {
	mu sync.Mutex

	createCaseFileFunc      func(ctx context.Context, name, description string) (string, error)
	createEvidenceGroupFunc func(ctx context.Context, caseFileRef, name string) (string, error)
	notarizeFunc            func(ctx context.Context, req qtsp.NotarizeRequest) (qtsp.Result, error)
	sealFunc                func(ctx context.Context, req qtsp.SealRequest) (qtsp.Result, error)
	statusFunc              func(ctx context.Context, ref string) (qtsp.Result, error)

	calls map[string]int
}

func newMockClient() *mockClient {
	return &mockClient{
		createCaseFileFunc: func(context.Context, string, string) (string, error) { return "cf-remote", nil },
		createEvidenceGroupFunc: func(context.Context, string, string) (string, error) {
			return "eg-remote", nil
		},
		calls: make(map[string]int),
	}
}

func (m *mockClient) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

func (m *mockClient) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockClient) CreateCaseFile(ctx context.Context, name, description string) (string, error) {
	m.count("create_case_file")
	return m.createCaseFileFunc(ctx, name, description)
}

func (m *mockClient) CreateEvidenceGroup(ctx context.Context, caseFileRef, name string) (string, error) {
	m.count("create_evidence_group")
	return m.createEvidenceGroupFunc(ctx, caseFileRef, name)
}

func (m *mockClient) Notarize(ctx context.Context, req qtsp.NotarizeRequest) (qtsp.Result, error) {
	m.count("notarize")
	return m.notarizeFunc(ctx, req)
}

func (m *mockClient) Seal(ctx context.Context, req qtsp.SealRequest) (qtsp.Result, error) {
	m.count("seal")
	return m.sealFunc(ctx, req)
}

func (m *mockClient) Status(ctx context.Context, ref string) (qtsp.Result, error) {
	m.count("status")
	return m.statusFunc(ctx, ref)
}

func (m *mockClient) Health(context.Context) qtsp.HealthReport {
	return qtsp.HealthReport{AuthOK: true, APIOK: true}
}
