// Package auditlog records every call made to the trust service provider.
// Entries are append-only and form the timeline reconstructed during an
// inspection.
package auditlog

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

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	writeTimeout = 5 * time.Second
)

// Call describes one provider interaction.
type Call struct {
	CompanyID  *uuid.UUID
	EvidenceID *uuid.UUID
	Action     domain.AuditAction
	// Status overrides the status derived from the call error when set.
	Status  domain.AuditStatus
	Details map[string]any
}

type Recorder struct {
	repo domain.AuditRepository
	now  func() time.Time
}

func NewRecorder(repo domain.AuditRepository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// Record writes the entry for a finished call. The write survives
// cancellation of ctx so that an aborted request still leaves its trace.
func (r *Recorder) Record(ctx context.Context, c Call, elapsed time.Duration, callErr error) error {
	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		CompanyID:  c.CompanyID,
		EvidenceID: c.EvidenceID,
		Action:     c.Action,
		Status:     statusOf(c.Status, callErr),
		DurationMS: elapsed.Milliseconds(),
		Details:    c.Details,
		CreatedAt:  r.now().UTC(),
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	metrics.ObserveQTSPCall(string(c.Action), string(entry.Status), elapsed)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Record(writeCtx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Error().Err(err).
			Str("action", string(c.Action)).
			Str("status", string(entry.Status)).
			Msg("audit entry not recorded")
		return fmt.Errorf("auditlog.Record: %w", err)
	}

	return nil
}

// Track runs fn and records exactly one entry for it, whatever the outcome.
// The status may be adjusted by fn through the returned pointer.
//
// Track returns fn's error only. A failed audit write is logged and counted
// by Record; reporting it here would make a completed provider call look
// failed and get it repeated.
func (r *Recorder) Track(ctx context.Context, c Call, fn func(ctx context.Context, c *Call) error) error {
	start := r.now()
	callErr := fn(ctx, &c)
	_ = r.Record(ctx, c, r.now().Sub(start), callErr)
	return callErr
}

// List returns a company's entries newest first.
func (r *Recorder) List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		return nil, domain.NewValidationError("offset", "must not be negative")
	}

	entries, err := r.repo.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("auditlog.List: %w", err)
	}
	return entries, nil
}

func (r *Recorder) ListByEvidence(ctx context.Context, companyID, evidenceID uuid.UUID) ([]*domain.AuditEntry, error) {
	entries, err := r.repo.ListByEvidence(ctx, companyID, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("auditlog.ListByEvidence: %w", err)
	}
	return entries, nil
}

func statusOf(override domain.AuditStatus, err error) domain.AuditStatus {
	switch {
	case override != "":
		return override
	case err == nil:
		return domain.AuditStatusSuccess
	case errors.Is(err, domain.ErrAlreadySealed):
		return domain.AuditStatusWarning
	default:
		return domain.AuditStatusError
	}
}
