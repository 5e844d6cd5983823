// Package evidence drives notarization subjects through the provider and owns
// the evidence state machine.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
)

// Subject is something to notarize: a daily root hash or a monthly report.
type Subject struct {
	CompanyID uuid.UUID
	Type      domain.EvidenceType
	// Ref is the DailyRoot id or the report month.
	Ref         string
	Hash        string
	YearMonth   string
	Name        string
	Description string

	// Seal-only fields.
	FileName  string
	Content   []byte
	SourceRef string
}

func (s Subject) validate() error {
	if s.CompanyID == uuid.Nil {
		return domain.NewValidationError("company_id", "is required")
	}
	if s.Ref == "" {
		return domain.NewValidationError("subject_ref", "is required")
	}
	if len(s.Hash) != sha256.Size*2 {
		return domain.NewValidationError("hash", "must be a hex SHA-256 digest")
	}
	if _, err := hex.DecodeString(s.Hash); err != nil {
		return domain.NewValidationError("hash", "must be a hex SHA-256 digest")
	}
	if _, err := domain.ParseYearMonth("year_month", s.YearMonth); err != nil {
		return err
	}
	switch s.Type {
	case domain.EvidenceTypeDailyTimestamp:
	case domain.EvidenceTypeMonthlyReport:
		if len(s.Content) == 0 {
			return domain.NewValidationError("pdf", "is empty")
		}
	default:
		return domain.NewValidationError("type", "unknown evidence type "+string(s.Type))
	}
	return nil
}

// DailySubject builds the subject for a daily root.
func DailySubject(root *domain.DailyRoot) Subject {
	return Subject{
		CompanyID:   root.CompanyID,
		Type:        domain.EvidenceTypeDailyTimestamp,
		Ref:         root.ID.String(),
		Hash:        root.RootHash,
		YearMonth:   root.YearMonth(),
		Name:        "Merkle Root " + root.Date,
		Description: "Hash raíz del árbol Merkle de fichajes del día " + root.Date,
	}
}

// ReportSubject builds the subject for sealing a monthly report.
func ReportSubject(companyID uuid.UUID, month, fileName string, pdf []byte) Subject {
	sum := sha256.Sum256(pdf)
	return Subject{
		CompanyID:   companyID,
		Type:        domain.EvidenceTypeMonthlyReport,
		Ref:         month,
		Hash:        hex.EncodeToString(sum[:]),
		YearMonth:   month,
		Name:        "Informe Mensual " + month,
		Description: "Informe de fichajes del mes " + month,
		FileName:    fileName,
		Content:     pdf,
	}
}

// RetryReport summarizes a retryFailed batch. Pending counts evidence the
// provider accepted but has not completed yet; Exhausted counts evidence past
// the retry limit that was left for manual intervention.
type RetryReport struct {
	Succeeded int
	Failed    int
	Pending   int
	Exhausted int
}

// CheckReport summarizes a checkPending batch.
type CheckReport struct {
	Checked   int
	Completed int
	Failed    int
}

// StatusEvent is published on every evidence state change.
type StatusEvent struct {
	Type         string    `json:"type"`
	EvidenceID   uuid.UUID `json:"evidence_id"`
	CompanyID    uuid.UUID `json:"company_id"`
	EvidenceType string    `json:"evidence_type"`
	SubjectRef   string    `json:"subject_ref"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}
