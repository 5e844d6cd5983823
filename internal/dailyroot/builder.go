// Package dailyroot turns one company-day of finalized time events into a
// DailyRoot.
package dailyroot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/metrics"
)

type Builder struct {
	companies domain.CompanyRepository
	events    domain.TimeEventReader
	roots     domain.DailyRootRepository
	now       func() time.Time
}

func NewBuilder(companies domain.CompanyRepository, events domain.TimeEventReader, roots domain.DailyRootRepository) *Builder {
	return &Builder{
		companies: companies,
		events:    events,
		roots:     roots,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Used by tests and the scheduler.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// DayBounds returns the half-open interval [start, end) covering date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Build produces the DailyRoot for (companyID, date). If a root already exists
// it is returned with created=false and nothing is recomputed.
//
// Build refuses with domain.ErrNotFinalized while the day is still open in the
// company's timezone, and with domain.ErrEmptyDay when the day has no events.
func (b *Builder) Build(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, bool, error) {
	day, err := domain.ParseDate("date", date)
	if err != nil {
		return nil, false, err
	}

	company, err := b.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, false, fmt.Errorf("dailyroot.Build: company: %w", err)
	}

	start, end := DayBounds(day, company.Location())
	if b.now().Before(end) {
		return nil, false, fmt.Errorf("dailyroot.Build: %s: %w", date, domain.ErrNotFinalized)
	}

	existing, err := b.roots.GetByDate(ctx, companyID, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("dailyroot.Build: lookup: %w", err)
	}

	events, err := b.events.ListBetween(ctx, companyID, start, end)
	if err != nil {
		return nil, false, fmt.Errorf("dailyroot.Build: events: %w", err)
	}

	rootHash, count, err := ComputeRoot(events)
	if err != nil {
		return nil, false, fmt.Errorf("dailyroot.Build: %s: %w", date, err)
	}

	stored, created, err := b.roots.Insert(ctx, &domain.DailyRoot{
		ID:         uuid.New(),
		CompanyID:  companyID,
		Date:       date,
		RootHash:   rootHash,
		EventCount: count,
		CreatedAt:  b.now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("dailyroot.Build: insert: %w", err)
	}

	if created {
		metrics.DailyRootBuilt()
		log.Info().
			Str("company_id", companyID.String()).
			Str("date", date).
			Int("event_count", count).
			Str("root_hash", rootHash).
			Msg("daily root built")
	}

	return stored, created, nil
}

// Verify recomputes the root for a stored day from the current events and
// returns a *domain.IntegrityError if they no longer match.
func (b *Builder) Verify(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, error) {
	day, err := domain.ParseDate("date", date)
	if err != nil {
		return nil, err
	}

	stored, err := b.roots.GetByDate(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("dailyroot.Verify: %w", err)
	}

	company, err := b.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("dailyroot.Verify: company: %w", err)
	}

	start, end := DayBounds(day, company.Location())
	events, err := b.events.ListBetween(ctx, companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("dailyroot.Verify: events: %w", err)
	}

	item := "daily_root:" + date
	rootHash, count, err := ComputeRoot(events)
	if errors.Is(err, domain.ErrEmptyDay) {
		return stored, &domain.IntegrityError{Item: item, Expected: stored.RootHash, Actual: "no events"}
	}
	if err != nil {
		return nil, fmt.Errorf("dailyroot.Verify: %w", err)
	}
	if rootHash != stored.RootHash {
		return stored, &domain.IntegrityError{Item: item, Expected: stored.RootHash, Actual: rootHash}
	}
	if count != stored.EventCount {
		return stored, &domain.IntegrityError{
			Item:     item + ":event_count",
			Expected: fmt.Sprint(stored.EventCount),
			Actual:   fmt.Sprint(count),
		}
	}

	return stored, nil
}

// List returns roots with from <= date <= to.
func (b *Builder) List(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.DailyRoot, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	roots, err := b.roots.ListBetween(ctx, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("dailyroot.List: %w", err)
	}
	return roots, nil
}

func validateRange(from, to string) error {
	start, err := domain.ParseDate("from", from)
	if err != nil {
		return err
	}
	end, err := domain.ParseDate("to", to)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return domain.NewValidationError("to", "must not be before from")
	}
	return nil
}
