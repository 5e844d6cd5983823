package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout      = "2006-01-02"
	YearMonthLayout = "2006-01"
)

// DailyRoot is the Merkle root over one company's finalized events for one day.
// Exactly one exists per (company, date).
type DailyRoot struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	Date       string
	RootHash   string
	EventCount int
	CreatedAt  time.Time
}

// YearMonth returns the YYYY-MM bucket of the root's date.
func (r *DailyRoot) YearMonth() string {
	if len(r.Date) < 7 {
		return r.Date
	}
	return r.Date[:7]
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewValidationError(field, fmt.Sprintf("%q is not a YYYY-MM-DD date", s))
	}
	return t, nil
}

// ParseYearMonth validates a YYYY-MM string.
func ParseYearMonth(field, s string) (time.Time, error) {
	t, err := time.Parse(YearMonthLayout, s)
	if err != nil {
		return time.Time{}, NewValidationError(field, fmt.Sprintf("%q is not a YYYY-MM month", s))
	}
	return t, nil
}

type DailyRootRepository interface {
	// Insert stores the root unless one already exists for (company, date).
	// It returns the stored row and whether this call created it.
	Insert(ctx context.Context, r *DailyRoot) (*DailyRoot, bool, error)
	GetByID(ctx context.Context, companyID, id uuid.UUID) (*DailyRoot, error)
	GetByDate(ctx context.Context, companyID uuid.UUID, date string) (*DailyRoot, error)
	ListBetween(ctx context.Context, companyID uuid.UUID, from, to string) ([]*DailyRoot, error)
}
