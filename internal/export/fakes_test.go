package export_test

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
)

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
	out := make([]*domain.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	return out, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*domain.TimeEvent
}

func (m *memEvents) ListBetween(_ context.Context, companyID uuid.UUID, from, to time.Time) ([]*domain.TimeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.TimeEvent
	// Newest first, so nothing relies on repository ordering.
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.CompanyID == companyID && !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRoots struct {
	mu    sync.Mutex
	roots map[string]*domain.DailyRoot
}

func (m *memRoots) Insert(_ context.Context, r *domain.DailyRoot) (*domain.DailyRoot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.roots[r.Date]; ok {
		return existing, false, nil
	}
	m.roots[r.Date] = r
	return r, true, nil
}

func (m *memRoots) GetByID(_ context.Context, _, id uuid.UUID) (*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roots {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRoots) GetByDate(_ context.Context, _ uuid.UUID, date string) (*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roots[date]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRoots) ListBetween(_ context.Context, _ uuid.UUID, from, to string) ([]*domain.DailyRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DailyRoot
	for date, r := range m.roots {
		if date >= from && date <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

// memEvidence only serves the listing the assembler reads.
type memEvidence struct {
	domain.EvidenceRepository

	mu   sync.Mutex
	rows []*domain.Evidence
}

func (m *memEvidence) ListBySubjects(_ context.Context, companyID uuid.UUID, refs []string) ([]*domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Evidence
	for _, e := range m.rows {
		if e.CompanyID == companyID && slices.Contains(refs, e.SubjectRef) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memEmployees struct {
	employees []*domain.Employee
}

func (m *memEmployees) ListActive(context.Context, uuid.UUID) ([]*domain.Employee, error) {
	return m.employees, nil
}

type memCalendars struct {
	calendars []*domain.LaborCalendar
}

func (m *memCalendars) ListByYears(_ context.Context, _ uuid.UUID, fromYear, toYear int) ([]*domain.LaborCalendar, error) {
	var out []*domain.LaborCalendar
	for _, c := range m.calendars {
		if c.Year >= fromYear && c.Year <= toYear {
			out = append(out, c)
		}
	}
	return out, nil
}

type memPolicies struct {
	docs []*domain.PolicyDocument
}

func (m *memPolicies) ListPublished(context.Context, uuid.UUID) ([]*domain.PolicyDocument, error) {
	return m.docs, nil
}

type memCorrections struct {
	corrections []*domain.Correction
}

func (m *memCorrections) ListBetween(_ context.Context, _ uuid.UUID, from, to string) ([]*domain.Correction, error) {
	var out []*domain.Correction
	for _, c := range m.corrections {
		if c.Date >= from && c.Date <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

type memPackages struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Package
}

func clonePackage(p *domain.Package) *domain.Package {
	cp := *p
	cp.Manifest = slices.Clone(p.Manifest)
	cp.Deliverables = make([]domain.Deliverable, len(p.Deliverables))
	for i, d := range p.Deliverables {
		d.Content = slices.Clone(d.Content)
		cp.Deliverables[i] = d
	}
	return &cp
}

func (m *memPackages) Create(_ context.Context, p *domain.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return domain.ErrConflict
	}
	m.rows[p.ID] = clonePackage(p)
	return nil
}

func (m *memPackages) GetByID(_ context.Context, companyID, id uuid.UUID) (*domain.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return clonePackage(p), nil
}

func (m *memPackages) List(_ context.Context, companyID uuid.UUID, _, _ int) ([]*domain.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Package
	for _, p := range m.rows {
		if p.CompanyID == companyID {
			out = append(out, clonePackage(p))
		}
	}
	return out, nil
}

func (m *memPackages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// tamper edits the stored copy of a package.
func (m *memPackages) tamper(id uuid.UUID, fn func(p *domain.Package)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.rows[id])
}
