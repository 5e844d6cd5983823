package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/export"
)

type DailyRoot struct {
	ID         uuid.UUID `json:"id"`
	Date       string    `json:"date"`
	RootHash   string    `json:"root_hash"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDailyRoot(r *domain.DailyRoot) *DailyRoot {
	if r == nil {
		return nil
	}
	return &DailyRoot{
		ID:         r.ID,
		Date:       r.Date,
		RootHash:   r.RootHash,
		EventCount: r.EventCount,
		CreatedAt:  r.CreatedAt,
	}
}

type Evidence struct {
	ID                uuid.UUID  `json:"id"`
	GroupID           uuid.UUID  `json:"group_id"`
	Type              string     `json:"type"`
	SubjectRef        string     `json:"subject_ref"`
	SubjectHash       string     `json:"subject_hash"`
	Status            string     `json:"status"`
	ExternalID        string     `json:"external_id,omitempty"`
	TSPToken          string     `json:"tsp_token,omitempty"`
	TSPTimestamp      *time.Time `json:"tsp_timestamp,omitempty"`
	SealedArtifactRef string     `json:"sealed_artifact_ref,omitempty"`
	FileName          string     `json:"file_name,omitempty"`
	RetryCount        int        `json:"retry_count"`
	BackoffSeconds    int        `json:"backoff_seconds"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	Terminal          bool       `json:"terminal"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func newEvidence(ev *domain.Evidence) *Evidence {
	return &Evidence{
		ID:                ev.ID,
		GroupID:           ev.GroupID,
		Type:              string(ev.Type),
		SubjectRef:        ev.SubjectRef,
		SubjectHash:       ev.SubjectHash,
		Status:            string(ev.Status),
		ExternalID:        ev.ExternalID,
		TSPToken:          ev.TSPToken,
		TSPTimestamp:      ev.TSPTimestamp,
		SealedArtifactRef: ev.SealedArtifactRef,
		FileName:          ev.FileName,
		RetryCount:        ev.RetryCount,
		BackoffSeconds:    ev.BackoffSeconds,
		NextRetryAt:       ev.NextRetryAt,
		ErrorMessage:      ev.ErrorMessage,
		Terminal:          ev.Terminal,
		CreatedAt:         ev.CreatedAt,
		UpdatedAt:         ev.UpdatedAt,
		CompletedAt:       ev.CompletedAt,
	}
}

func newEvidenceList(list []*domain.Evidence) []*Evidence {
	out := make([]*Evidence, 0, len(list))
	for _, ev := range list {
		out = append(out, newEvidence(ev))
	}
	return out
}

type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	EvidenceID   *uuid.UUID     `json:"evidence_id,omitempty"`
	Action       string         `json:"action"`
	Status       string         `json:"status"`
	DurationMS   int64          `json:"duration_ms"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newAuditEntries(entries []*domain.AuditEntry) []*AuditEntry {
	out := make([]*AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, &AuditEntry{
			ID:           e.ID,
			EvidenceID:   e.EvidenceID,
			Action:       string(e.Action),
			Status:       string(e.Status),
			DurationMS:   e.DurationMS,
			ErrorMessage: e.ErrorMessage,
			Details:      e.Details,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

type Components struct {
	DailyRecord     bool `json:"daily_record" doc:"Include daily_record.csv"`
	LaborCalendar   bool `json:"labor_calendar" doc:"Include labor_calendar.json"`
	Policies        bool `json:"policies" doc:"Include one markdown file per published policy"`
	EmployeeSummary bool `json:"employee_summary" doc:"Include employee_summary.json"`
}

type ITSSReference struct {
	ExpedientNumber string `json:"expedient_number" doc:"Inspection expedient number"`
	RequestDate     string `json:"request_date,omitempty" doc:"Date of the inspection request (YYYY-MM-DD)"`
	ContactPerson   string `json:"contact_person,omitempty" doc:"Company contact for the inspection"`
}

type Deliverable struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	SHA256 string `json:"sha256"`
	Rows   int    `json:"rows"`
}

type Package struct {
	ID           uuid.UUID      `json:"id"`
	PeriodStart  string         `json:"period_start"`
	PeriodEnd    string         `json:"period_end"`
	Components   Components     `json:"components"`
	Reference    *ITSSReference `json:"itss_reference,omitempty"`
	ManifestHash string         `json:"manifest_hash"`
	Deliverables []Deliverable  `json:"deliverables"`
	GeneratedAt  time.Time      `json:"generated_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newPackage(p *domain.Package) *Package {
	out := &Package{
		ID:           p.ID,
		PeriodStart:  p.PeriodStart,
		PeriodEnd:    p.PeriodEnd,
		Components:   Components(p.Components),
		ManifestHash: p.ManifestHash,
		Deliverables: make([]Deliverable, 0, len(p.Deliverables)),
		GeneratedAt:  p.GeneratedAt,
		CreatedAt:    p.CreatedAt,
	}
	if p.Reference != nil {
		ref := ITSSReference(*p.Reference)
		out.Reference = &ref
	}
	for _, d := range p.Deliverables {
		out.Deliverables = append(out.Deliverables, Deliverable{Name: d.Name, Type: d.Type, SHA256: d.SHA256, Rows: d.Rows})
	}
	return out
}

type ExportResult struct {
	DryRun    bool              `json:"dry_run"`
	Package   *Package          `json:"package,omitempty" doc:"Stored package; absent on dry runs"`
	Manifest  *export.Manifest  `json:"manifest"`
	PreChecks []export.PreCheck `json:"pre_checks"`
}
