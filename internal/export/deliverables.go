package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
)

const (
	TypeCSV      = "csv"
	TypeJSON     = "json"
	TypeMarkdown = "markdown"

	DailyRecordFile     = "daily_record.csv"
	LaborCalendarFile   = "labor_calendar.json"
	EmployeeSummaryFile = "employee_summary.json"
	EvidenceFile        = "qtsp_evidence.json"
)

// inputs is everything a package is derived from. Every slice is sorted
// before use so the deliverables do not depend on repository ordering.
type inputs struct {
	company     *domain.Company
	loc         *time.Location
	from, to    string
	events      []*domain.TimeEvent
	roots       []*domain.DailyRoot
	evidence    []*domain.Evidence
	employees   []*domain.Employee
	corrections []*domain.Correction
	calendars   []*domain.LaborCalendar
	policies    []*domain.PolicyDocument
	provider    string
}

// dayKey identifies one employee's day in company-local time.
type dayKey struct {
	employeeID uuid.UUID
	date       string
}

// workday is the reduction of one employee-day of events.
type workday struct {
	key           dayKey
	entry         *time.Time
	exit          *time.Time
	workedMinutes int
	eventCount    int
	source        string
	openEntry     bool
}

func (in *inputs) workdays() []*workday {
	byKey := make(map[dayKey][]*domain.TimeEvent)
	for _, e := range in.events {
		k := dayKey{employeeID: e.EmployeeID, date: e.Timestamp.In(in.loc).Format(domain.DateLayout)}
		byKey[k] = append(byKey[k], e)
	}

	days := make([]*workday, 0, len(byKey))
	for k, events := range byKey {
		sort.SliceStable(events, func(i, j int) bool {
			if !events[i].Timestamp.Equal(events[j].Timestamp) {
				return events[i].Timestamp.Before(events[j].Timestamp)
			}
			return events[i].ID.String() < events[j].ID.String()
		})

		d := &workday{key: k, eventCount: len(events), source: events[0].Source}
		var (
			open   *time.Time
			worked time.Duration
		)
		for _, e := range events {
			ts := e.Timestamp
			switch {
			case e.EventType.IsEntry():
				if d.entry == nil {
					d.entry = &ts
				}
				if open == nil {
					open = &ts
				}
			case e.EventType.IsExit():
				d.exit = &ts
				if open != nil {
					worked += ts.Sub(*open)
					open = nil
				}
			}
		}
		d.workedMinutes = int(math.Round(worked.Minutes()))
		d.openEntry = open != nil
		days = append(days, d)
	}

	employees := in.employeeIndex()
	sort.Slice(days, func(i, j int) bool {
		a, b := days[i].key, days[j].key
		if a.date != b.date {
			return a.date < b.date
		}
		ca, cb := employees[a.employeeID].code(), employees[b.employeeID].code()
		if ca != cb {
			return ca < cb
		}
		return a.employeeID.String() < b.employeeID.String()
	})
	return days
}

type employeeRef struct {
	*domain.Employee
}

func (r employeeRef) code() string {
	if r.Employee == nil {
		return ""
	}
	return r.Code
}

func (r employeeRef) name() string {
	if r.Employee == nil {
		return ""
	}
	return r.FullName()
}

func (in *inputs) employeeIndex() map[uuid.UUID]employeeRef {
	idx := make(map[uuid.UUID]employeeRef, len(in.employees))
	for _, e := range in.employees {
		idx[e.ID] = employeeRef{e}
	}
	return idx
}

// approvedCorrections maps employee-days to the reasons of their approved
// corrections, joined in creation order.
func (in *inputs) approvedCorrections() map[dayKey]string {
	sorted := append([]*domain.Correction(nil), in.corrections...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	out := make(map[dayKey]string)
	for _, c := range sorted {
		if c.Status != domain.CorrectionStatusApproved {
			continue
		}
		k := dayKey{employeeID: c.EmployeeID, date: c.Date}
		if prev, ok := out[k]; ok && prev != "" {
			out[k] = prev + "; " + c.Reason
			continue
		}
		out[k] = c.Reason
	}
	return out
}

// auditRefs maps dates to the strongest proof available for them: the TSP
// token when the day is notarized, otherwise the root hash.
func (in *inputs) auditRefs() map[string]string {
	completed := in.completedBySubject()
	refs := make(map[string]string, len(in.roots))
	for _, r := range in.roots {
		if ev, ok := completed[r.ID.String()]; ok && ev.TSPToken != "" {
			refs[r.Date] = ev.TSPToken
			continue
		}
		refs[r.Date] = r.RootHash
	}
	return refs
}

func (in *inputs) completedBySubject() map[string]*domain.Evidence {
	out := make(map[string]*domain.Evidence)
	for _, ev := range in.evidence {
		if ev.Status == domain.EvidenceStatusCompleted {
			out[ev.SubjectRef] = ev
		}
	}
	return out
}

func newDeliverable(name, typ string, rows int, content []byte) domain.Deliverable {
	return domain.Deliverable{
		Name:    name,
		Type:    typ,
		SHA256:  sha256Hex(content),
		Rows:    rows,
		Content: content,
	}
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var dailyRecordHeader = []string{
	"company_id", "company_name", "employee_id", "employee_code", "employee_name",
	"date", "entry_time", "exit_time", "daily_worked_minutes", "event_count",
	"origin", "correction_flag", "correction_reason", "audit_ref",
}

func (in *inputs) dailyRecord() (domain.Deliverable, error) {
	var (
		buf         bytes.Buffer
		employees   = in.employeeIndex()
		corrections = in.approvedCorrections()
		refs        = in.auditRefs()
		days        = in.workdays()
	)

	w := csv.NewWriter(&buf)
	if err := w.Write(dailyRecordHeader); err != nil {
		return domain.Deliverable{}, fmt.Errorf("daily record: %w", err)
	}
	for _, d := range days {
		emp := employees[d.key.employeeID]
		reason, corrected := corrections[d.key]
		origin := d.source
		if corrected {
			origin = "correction"
		}
		row := []string{
			in.company.ID.String(),
			in.company.Name,
			d.key.employeeID.String(),
			emp.code(),
			emp.name(),
			d.key.date,
			formatTime(d.entry),
			formatTime(d.exit),
			strconv.Itoa(d.workedMinutes),
			strconv.Itoa(d.eventCount),
			origin,
			strconv.FormatBool(corrected),
			reason,
			refs[d.key.date],
		}
		if err := w.Write(row); err != nil {
			return domain.Deliverable{}, fmt.Errorf("daily record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return domain.Deliverable{}, fmt.Errorf("daily record: %w", err)
	}

	return newDeliverable(DailyRecordFile, TypeCSV, len(days), buf.Bytes()), nil
}

type calendarDoc struct {
	Period    ManifestPeriod  `json:"period"`
	Calendars []calendarEntry `json:"calendars"`
}

type calendarEntry struct {
	Year     int            `json:"year"`
	Name     string         `json:"name"`
	Holidays []holidayEntry `json:"holidays"`
}

type holidayEntry struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// laborCalendar lists the holidays that fall inside the period.
func (in *inputs) laborCalendar() (domain.Deliverable, error) {
	cals := append([]*domain.LaborCalendar(nil), in.calendars...)
	sort.SliceStable(cals, func(i, j int) bool {
		if cals[i].Year != cals[j].Year {
			return cals[i].Year < cals[j].Year
		}
		return cals[i].Name < cals[j].Name
	})

	doc := calendarDoc{
		Period:    ManifestPeriod{Start: in.from, End: in.to},
		Calendars: make([]calendarEntry, 0, len(cals)),
	}
	rows := 0
	for _, c := range cals {
		entry := calendarEntry{Year: c.Year, Name: c.Name, Holidays: []holidayEntry{}}
		for _, h := range c.Holidays {
			if h.Date < in.from || h.Date > in.to {
				continue
			}
			entry.Holidays = append(entry.Holidays, holidayEntry{Date: h.Date, Name: h.Name, Kind: h.Kind})
		}
		sort.SliceStable(entry.Holidays, func(i, j int) bool {
			return entry.Holidays[i].Date < entry.Holidays[j].Date
		})
		rows += len(entry.Holidays)
		doc.Calendars = append(doc.Calendars, entry)
	}

	content, err := encodeJSON(doc)
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("labor calendar: %w", err)
	}
	return newDeliverable(LaborCalendarFile, TypeJSON, rows, content), nil
}

// policyDocuments renders one markdown file per published policy, ordered by code.
func (in *inputs) policyDocuments() []domain.Deliverable {
	docs := append([]*domain.PolicyDocument(nil), in.policies...)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Code < docs[j].Code })

	out := make([]domain.Deliverable, 0, len(docs))
	for _, p := range docs {
		content := p.ContentMarkdown
		if !strings.HasPrefix(strings.TrimSpace(content), "#") {
			content = "# " + p.Name + "\n\n" + content
		}
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		out = append(out, newDeliverable(
			"policy_"+slug(p.Code)+".md",
			TypeMarkdown,
			strings.Count(content, "\n"),
			[]byte(content),
		))
	}
	return out
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

type summaryDoc struct {
	Period    ManifestPeriod `json:"period"`
	Employees []summaryEntry `json:"employees"`
}

type summaryEntry struct {
	EmployeeID         string `json:"employee_id"`
	Code               string `json:"code"`
	Name               string `json:"name"`
	Department         string `json:"department"`
	Position           string `json:"position"`
	HireDate           string `json:"hire_date"`
	DaysWorked         int    `json:"days_worked"`
	TotalWorkedMinutes int    `json:"total_worked_minutes"`
	EventCount         int    `json:"event_count"`
	Corrections        int    `json:"corrections"`
}

// employeeSummary totals the period per active employee. Employees who
// clocked in the period but are no longer active are listed without profile.
func (in *inputs) employeeSummary() (domain.Deliverable, error) {
	byID := make(map[uuid.UUID]*summaryEntry)
	for _, e := range in.employees {
		byID[e.ID] = &summaryEntry{
			EmployeeID: e.ID.String(),
			Code:       e.Code,
			Name:       e.FullName(),
			Department: e.Department,
			Position:   e.Position,
			HireDate:   e.HireDate,
		}
	}
	entry := func(id uuid.UUID) *summaryEntry {
		s, ok := byID[id]
		if !ok {
			s = &summaryEntry{EmployeeID: id.String()}
			byID[id] = s
		}
		return s
	}
	for _, d := range in.workdays() {
		s := entry(d.key.employeeID)
		s.DaysWorked++
		s.TotalWorkedMinutes += d.workedMinutes
		s.EventCount += d.eventCount
	}
	for _, c := range in.corrections {
		entry(c.EmployeeID).Corrections++
	}

	doc := summaryDoc{
		Period:    ManifestPeriod{Start: in.from, End: in.to},
		Employees: make([]summaryEntry, 0, len(byID)),
	}
	for _, s := range byID {
		doc.Employees = append(doc.Employees, *s)
	}
	sort.Slice(doc.Employees, func(i, j int) bool {
		a, b := doc.Employees[i], doc.Employees[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.EmployeeID < b.EmployeeID
	})

	content, err := encodeJSON(doc)
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("employee summary: %w", err)
	}
	return newDeliverable(EmployeeSummaryFile, TypeJSON, len(doc.Employees), content), nil
}

type evidenceDoc struct {
	Provider              string           `json:"qtsp_provider"`
	Period                ManifestPeriod   `json:"period"`
	DailyTimestamps       []dailyEvidence  `json:"daily_timestamps"`
	MonthlyReports        []reportEvidence `json:"monthly_reports"`
	TotalDaysWithEvidence int              `json:"total_days_with_evidence"`
}

type dailyEvidence struct {
	Date          string `json:"date"`
	DailyRootHash string `json:"daily_root_hash"`
	EventCount    int    `json:"event_count"`
	Status        string `json:"status"`
	EvidenceID    string `json:"evidence_id"`
	TSPToken      string `json:"tsp_token"`
	TSPTimestamp  string `json:"tsp_timestamp"`
}

type reportEvidence struct {
	Month             string `json:"month"`
	FileName          string `json:"file_name"`
	DocumentHash      string `json:"document_hash"`
	Status            string `json:"status"`
	EvidenceID        string `json:"evidence_id"`
	TSPToken          string `json:"tsp_token"`
	TSPTimestamp      string `json:"tsp_timestamp"`
	SealedArtifactRef string `json:"sealed_artifact_ref"`
}

// qtspEvidence lists every daily root of the period with the state of its
// notarization, plus the monthly sealed reports.
func (in *inputs) qtspEvidence() (domain.Deliverable, error) {
	daily := make(map[string]*domain.Evidence)
	monthly := make([]*domain.Evidence, 0)
	for _, ev := range in.evidence {
		switch ev.Type {
		case domain.EvidenceTypeDailyTimestamp:
			daily[ev.SubjectRef] = ev
		case domain.EvidenceTypeMonthlyReport:
			monthly = append(monthly, ev)
		}
	}

	doc := evidenceDoc{
		Provider:        in.provider,
		Period:          ManifestPeriod{Start: in.from, End: in.to},
		DailyTimestamps: make([]dailyEvidence, 0, len(in.roots)),
		MonthlyReports:  make([]reportEvidence, 0, len(monthly)),
	}
	for _, r := range in.roots {
		entry := dailyEvidence{
			Date:          r.Date,
			DailyRootHash: r.RootHash,
			EventCount:    r.EventCount,
			Status:        "missing",
		}
		if ev, ok := daily[r.ID.String()]; ok {
			entry.Status = string(ev.Status)
			entry.EvidenceID = ev.ID.String()
			entry.TSPToken = ev.TSPToken
			entry.TSPTimestamp = formatTime(ev.TSPTimestamp)
			if ev.Status == domain.EvidenceStatusCompleted {
				doc.TotalDaysWithEvidence++
			}
		}
		doc.DailyTimestamps = append(doc.DailyTimestamps, entry)
	}

	sort.SliceStable(monthly, func(i, j int) bool { return monthly[i].SubjectRef < monthly[j].SubjectRef })
	for _, ev := range monthly {
		doc.MonthlyReports = append(doc.MonthlyReports, reportEvidence{
			Month:             ev.SubjectRef,
			FileName:          ev.FileName,
			DocumentHash:      ev.SubjectHash,
			Status:            string(ev.Status),
			EvidenceID:        ev.ID.String(),
			TSPToken:          ev.TSPToken,
			TSPTimestamp:      formatTime(ev.TSPTimestamp),
			SealedArtifactRef: ev.SealedArtifactRef,
		})
	}

	content, err := encodeJSON(doc)
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("qtsp evidence: %w", err)
	}
	return newDeliverable(EvidenceFile, TypeJSON, len(doc.DailyTimestamps)+len(doc.MonthlyReports), content), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
