package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Read models owned by other subsystems. Export reads them to assemble
// deliverables and pre-checks.

type Employee struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	Code       string
	FirstName  string
	LastName   string
	Department string
	Position   string
	HireDate   string
}

func (e *Employee) FullName() string {
	if e.LastName == "" {
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}

type EmployeeReader interface {
	ListActive(ctx context.Context, companyID uuid.UUID) ([]*Employee, error)
}

type Holiday struct {
	Date string
	Name string
	Kind string // national, regional, local
}

type LaborCalendar struct {
	Year     int
	Name     string
	Holidays []Holiday
}

type LaborCalendarReader interface {
	ListByYears(ctx context.Context, companyID uuid.UUID, fromYear, toYear int) ([]*LaborCalendar, error)
}

type PolicyDocument struct {
	Code            string
	Name            string
	ContentMarkdown string
}

type PolicyDocumentReader interface {
	ListPublished(ctx context.Context, companyID uuid.UUID) ([]*PolicyDocument, error)
}

type CorrectionStatus string

const (
	CorrectionStatusPending  CorrectionStatus = "pending"
	CorrectionStatusApproved CorrectionStatus = "approved"
	CorrectionStatusRejected CorrectionStatus = "rejected"
)

// Correction is an employee's request to amend the events of one day.
type Correction struct {
	ID         uuid.UUID
	EmployeeID uuid.UUID
	Date       string
	Reason     string
	Status     CorrectionStatus
	CreatedAt  time.Time
}

type CorrectionReader interface {
	ListBetween(ctx context.Context, companyID uuid.UUID, from, to string) ([]*Correction, error)
}
