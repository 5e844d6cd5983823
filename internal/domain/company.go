package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTimezone is used when a company has no timezone configured.
const DefaultTimezone = "Europe/Madrid"

// Company is the tenant whose workforce clocks in and out. Owned by an external
// collaborator; read-only here.
type Company struct {
	ID       uuid.UUID
	Name     string
	TaxID    string
	Timezone string
}

// Location resolves the company's timezone, falling back to DefaultTimezone
// and finally UTC.
func (c *Company) Location() *time.Location {
	name := c.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type CompanyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	List(ctx context.Context) ([]*Company, error)
}
