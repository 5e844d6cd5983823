package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventClockIn    EventType = "clock_in"
	EventClockOut   EventType = "clock_out"
	EventPauseStart EventType = "pause_start"
	EventPauseEnd   EventType = "pause_end"
)

// IsEntry reports whether the event opens a worked interval.
func (t EventType) IsEntry() bool {
	return t == EventClockIn || t == EventPauseEnd
}

// IsExit reports whether the event closes a worked interval.
func (t EventType) IsExit() bool {
	return t == EventClockOut || t == EventPauseStart
}

// TimeEvent is a single clock record produced by a terminal or the web app.
// Immutable once its day is finalized.
type TimeEvent struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	EmployeeID uuid.UUID
	EventType  EventType
	Timestamp  time.Time
	Source     string
}

// TimeEventReader reads events in the half-open interval [from, to).
type TimeEventReader interface {
	ListBetween(ctx context.Context, companyID uuid.UUID, from, to time.Time) ([]*TimeEvent, error)
}
