package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EvidenceStatus string

const (
	EvidenceStatusPending    EvidenceStatus = "pending"
	EvidenceStatusProcessing EvidenceStatus = "processing"
	EvidenceStatusCompleted  EvidenceStatus = "completed"
	EvidenceStatusFailed     EvidenceStatus = "failed"
)

// ValidTransition checks if an evidence state transition is allowed.
// Allowed: pending->processing, processing->completed, processing->failed, failed->processing.
// Completed is final.
func (s EvidenceStatus) ValidTransition(to EvidenceStatus) bool {
	switch s {
	case EvidenceStatusPending:
		return to == EvidenceStatusProcessing
	case EvidenceStatusProcessing:
		return to == EvidenceStatusCompleted || to == EvidenceStatusFailed
	case EvidenceStatusFailed:
		return to == EvidenceStatusProcessing
	default:
		return false
	}
}

func (s EvidenceStatus) Valid() bool {
	switch s {
	case EvidenceStatusPending, EvidenceStatusProcessing, EvidenceStatusCompleted, EvidenceStatusFailed:
		return true
	default:
		return false
	}
}

type EvidenceType string

const (
	EvidenceTypeDailyTimestamp EvidenceType = "daily_timestamp"
	EvidenceTypeMonthlyReport  EvidenceType = "monthly_report"
)

// Evidence is one notarization subject and the provider's answer for it.
// Unique per (GroupID, Type, SubjectRef). Rows are never deleted.
type Evidence struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	GroupID   uuid.UUID
	Type      EvidenceType
	// SubjectRef is the DailyRoot id for daily_timestamp and the YYYY-MM month
	// for monthly_report.
	SubjectRef  string
	SubjectHash string
	Status      EvidenceStatus
	// ExternalID is the provider's evidence id, set once the provider accepts
	// the request. Used to poll asynchronous completions.
	ExternalID        string
	TSPToken          string
	TSPTimestamp      *time.Time
	SealedArtifactRef string
	// SourceRef points at the stored original document for monthly_report, so
	// a retry can resubmit it.
	SourceRef      string
	FileName       string
	RetryCount     int
	BackoffSeconds int
	NextRetryAt    *time.Time
	ErrorMessage   string
	Terminal       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Completion is what the provider returns for a successful notarization.
// Note is kept in error_message when the provider accepted the subject
// earlier and did not return its token again.
type Completion struct {
	Token       string
	Timestamp   time.Time
	ArtifactRef string
	CompletedAt time.Time
	Note        string
}

// Failure describes a failed attempt. NextRetryAt is nil when the evidence is
// immediately eligible for retry.
type Failure struct {
	Reason         string
	Terminal       bool
	CountAttempt   bool
	BackoffSeconds int
	NextRetryAt    *time.Time
}

type EvidenceRepository interface {
	// GetOrCreate inserts a pending row for (group, type, subject_ref) or returns
	// the existing one. created is false when the row already existed.
	GetOrCreate(ctx context.Context, e *Evidence) (stored *Evidence, created bool, err error)
	GetByID(ctx context.Context, companyID, id uuid.UUID) (*Evidence, error)
	GetBySubject(ctx context.Context, companyID uuid.UUID, typ EvidenceType, subjectRef string) (*Evidence, error)
	// MarkProcessing moves the row from one of the given states to processing.
	// It returns ErrInvalidTransition if the row was in none of them.
	MarkProcessing(ctx context.Context, companyID, id uuid.UUID, from ...EvidenceStatus) (*Evidence, error)
	// MarkCompleted and MarkFailed only apply to rows in processing.
	MarkCompleted(ctx context.Context, companyID, id uuid.UUID, c Completion) (*Evidence, error)
	MarkFailed(ctx context.Context, companyID, id uuid.UUID, f Failure) (*Evidence, error)
	SetExternalID(ctx context.Context, companyID, id uuid.UUID, externalID string) error
	// ReplaceSubject swaps the subject of a non-completed row before
	// resubmission. It returns ErrConflict if the row is completed.
	ReplaceSubject(ctx context.Context, companyID, id uuid.UUID, hash, fileName, sourceRef string) error
	ListRetryable(ctx context.Context, companyID uuid.UUID, now time.Time, maxRetries int) ([]*Evidence, error)
	CountExhausted(ctx context.Context, companyID uuid.UUID, maxRetries int) (int, error)
	ListProcessingBefore(ctx context.Context, companyID uuid.UUID, before time.Time) ([]*Evidence, error)
	List(ctx context.Context, companyID uuid.UUID, status EvidenceStatus, limit, offset int) ([]*Evidence, error)
	// ListBySubjects returns the rows whose subject_ref is in refs.
	ListBySubjects(ctx context.Context, companyID uuid.UUID, refs []string) ([]*Evidence, error)
}
