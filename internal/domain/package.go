package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PackageComponents selects the optional deliverables of an export package.
// The QTSP evidence listing is always included.
type PackageComponents struct {
	DailyRecord     bool
	LaborCalendar   bool
	Policies        bool
	EmployeeSummary bool
}

// ITSSReference identifies the inspection request a package answers.
type ITSSReference struct {
	ExpedientNumber string
	RequestDate     string
	ContactPerson   string
}

type Deliverable struct {
	Name    string
	Type    string // csv, json, markdown
	SHA256  string
	Rows    int
	Content []byte
}

// Package is a committed export. Manifest holds the exact bytes that were
// hashed into ManifestHash.
type Package struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	PeriodStart  string
	PeriodEnd    string
	Components   PackageComponents
	Reference    *ITSSReference
	Manifest     []byte
	ManifestHash string
	Deliverables []Deliverable
	GeneratedAt  time.Time
	CreatedAt    time.Time
}

type PackageRepository interface {
	// Create persists the package and all of its deliverables in one transaction.
	Create(ctx context.Context, p *Package) error
	GetByID(ctx context.Context, companyID, id uuid.UUID) (*Package, error)
	List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*Package, error)
}
