package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

type TimeEventRepo struct {
	pool *pgxpool.Pool
}

func NewTimeEventRepo(pool *pgxpool.Pool) *TimeEventRepo {
	return &TimeEventRepo{pool: pool}
}

// ListBetween returns events in [from, to) ordered by time and id.
func (r *TimeEventRepo) ListBetween(ctx context.Context, companyID uuid.UUID, from, to time.Time) ([]*domain.TimeEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, employee_id, event_type, occurred_at, source
		 FROM time_events
		 WHERE company_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 ORDER BY occurred_at, id`,
		companyID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("timeEventRepo.ListBetween: %w", err)
	}
	defer rows.Close()

	var events []*domain.TimeEvent
	for rows.Next() {
		var e domain.TimeEvent
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.EmployeeID, &e.EventType, &e.Timestamp, &e.Source); err != nil {
			return nil, fmt.Errorf("timeEventRepo.ListBetween: scan: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeEventRepo.ListBetween: rows: %w", err)
	}

	return events, nil
}
