// Package export assembles inspection packages from daily roots, evidence and
// the records they prove.
package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/timeproof/internal/dailyroot"
	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/metrics"
)

const (
	PreCheckCoverageGap          = "coverage_gap"
	PreCheckOpenEntry            = "open_entry"
	PreCheckUnresolvedCorrection = "unresolved_correction"
	PreCheckIncompleteEvidence   = "incomplete_evidence"

	SeverityWarning = "warning"
	SeverityError   = "error"

	maxPreCheckItems = 10
)

// Sources are the read models a package is built from.
type Sources struct {
	Companies   domain.CompanyRepository
	Events      domain.TimeEventReader
	Roots       domain.DailyRootRepository
	Evidence    domain.EvidenceRepository
	Employees   domain.EmployeeReader
	Calendars   domain.LaborCalendarReader
	Policies    domain.PolicyDocumentReader
	Corrections domain.CorrectionReader
}

type Config struct {
	// MaxRangeDays bounds the period of one package, both ends included.
	MaxRangeDays int
	// Provider is the trust service provider named in the evidence listing.
	Provider string
}

func DefaultConfig() Config {
	return Config{MaxRangeDays: 366, Provider: "EADTRUST"}
}

type Request struct {
	CompanyID  uuid.UUID
	From       string
	To         string
	Components domain.PackageComponents
	Reference  *domain.ITSSReference
	DryRun     bool
}

// Result of an export. In dry-run mode Package.ID is uuid.Nil and nothing was
// stored.
type Result struct {
	Package   *domain.Package
	Manifest  *Manifest
	PreChecks []PreCheck
	DryRun    bool
}

// VerifyReport summarizes a successful verification.
type VerifyReport struct {
	PackageID    uuid.UUID
	ManifestHash string
	Deliverables int
	DailyRoots   int
	Evidence     int
}

type Assembler struct {
	src      Sources
	packages domain.PackageRepository
	roots    *dailyroot.Builder
	cfg      Config
	now      func() time.Time
}

func NewAssembler(src Sources, packages domain.PackageRepository, roots *dailyroot.Builder, cfg Config) *Assembler {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultConfig().MaxRangeDays
	}
	return &Assembler{
		src:      src,
		packages: packages,
		roots:    roots,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Export builds the package for req. A dry run returns the manifest and
// pre-checks without persisting anything; otherwise the package and all of
// its deliverables are stored atomically.
func (a *Assembler) Export(ctx context.Context, req Request) (*Result, error) {
	if err := a.validate(req); err != nil {
		return nil, err
	}

	in, err := a.load(ctx, req.CompanyID, req.From, req.To, req.Components)
	if err != nil {
		return nil, fmt.Errorf("export.Assembler.Export: %w", err)
	}

	pkg, manifest, err := assemble(in, req.Components, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("export.Assembler.Export: %w", err)
	}

	res := &Result{Package: pkg, Manifest: manifest, PreChecks: manifest.PreChecks, DryRun: req.DryRun}
	logger := log.With().
		Str("company_id", req.CompanyID.String()).
		Str("from", req.From).
		Str("to", req.To).
		Str("manifest_hash", pkg.ManifestHash).
		Logger()

	if req.DryRun {
		metrics.PackageRun(true)
		logger.Info().Int("pre_checks", len(manifest.PreChecks)).Msg("export dry run")
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("export.Assembler.Export: %w", err)
	}

	now := a.now().UTC()
	pkg.ID = uuid.New()
	pkg.GeneratedAt = now
	pkg.CreatedAt = now
	if err := a.packages.Create(ctx, pkg); err != nil {
		return nil, fmt.Errorf("export.Assembler.Export: store: %w", err)
	}

	metrics.PackageRun(false)
	logger.Info().
		Str("package_id", pkg.ID.String()).
		Int("deliverables", len(pkg.Deliverables)).
		Msg("export package committed")
	return res, nil
}

func (a *Assembler) Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Package, error) {
	pkg, err := a.packages.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("export.Assembler.Get: %w", err)
	}
	return pkg, nil
}

func (a *Assembler) List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.Package, error) {
	pkgs, err := a.packages.List(ctx, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("export.Assembler.List: %w", err)
	}
	return pkgs, nil
}

// Verify checks a stored package using only data that cannot legitimately
// change after export: the stored bytes, the manifest's own declarations, the
// events behind each sealed daily root, and the completed evidence the
// manifest cites. Evidence completed or corrections resolved later do not
// affect the result. The first mismatch is returned as a
// *domain.IntegrityError naming the offending item.
func (a *Assembler) Verify(ctx context.Context, companyID, packageID uuid.UUID) (*VerifyReport, error) {
	pkg, err := a.packages.GetByID(ctx, companyID, packageID)
	if err != nil {
		return nil, fmt.Errorf("export.Assembler.Verify: %w", err)
	}

	if err := checkStored(pkg); err != nil {
		return nil, err
	}

	m, err := DecodeManifest(pkg.Manifest)
	if err != nil {
		return nil, &domain.IntegrityError{Item: "manifest", Expected: pkg.ManifestHash, Actual: "unreadable"}
	}
	if err := checkDeclared(pkg, m); err != nil {
		return nil, err
	}

	rootIDs := make(map[string]string, len(m.DailyRoots))
	for _, r := range m.DailyRoots {
		root, err := a.roots.Verify(ctx, companyID, r.Date)
		if err != nil {
			var ie *domain.IntegrityError
			if errors.As(err, &ie) {
				return nil, ie
			}
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.IntegrityError{Item: "daily_root:" + r.Date, Expected: r.RootHash, Actual: "missing"}
			}
			return nil, fmt.Errorf("export.Assembler.Verify: %w", err)
		}
		if root.RootHash != r.RootHash {
			return nil, &domain.IntegrityError{Item: "daily_root:" + r.Date, Expected: r.RootHash, Actual: root.RootHash}
		}
		rootIDs[r.Date] = root.ID.String()
	}

	if err := a.checkEvidence(ctx, companyID, m.Evidence, rootIDs); err != nil {
		return nil, err
	}

	log.Info().
		Str("company_id", companyID.String()).
		Str("package_id", packageID.String()).
		Msg("export package verified")

	return &VerifyReport{
		PackageID:    pkg.ID,
		ManifestHash: pkg.ManifestHash,
		Deliverables: len(pkg.Deliverables),
		DailyRoots:   len(m.DailyRoots),
		Evidence:     len(m.Evidence),
	}, nil
}

// checkStored verifies the stored deliverables against their recorded
// digests and the stored manifest bytes against the manifest hash.
func checkStored(pkg *domain.Package) error {
	for _, d := range pkg.Deliverables {
		if got := sha256Hex(d.Content); got != d.SHA256 {
			return &domain.IntegrityError{Item: "deliverable:" + d.Name, Expected: d.SHA256, Actual: got}
		}
	}
	if got := sha256Hex(pkg.Manifest); got != pkg.ManifestHash {
		return &domain.IntegrityError{Item: "manifest", Expected: pkg.ManifestHash, Actual: got}
	}
	return nil
}

// checkDeclared holds the stored deliverables to the list the manifest
// declares, in both directions, and recomputes the deliverables hash.
func checkDeclared(pkg *domain.Package, m *Manifest) error {
	stored := make(map[string]string, len(pkg.Deliverables))
	for _, d := range pkg.Deliverables {
		stored[d.Name] = d.SHA256
	}
	for _, d := range m.Deliverables {
		got, ok := stored[d.Name]
		if !ok {
			got = "missing"
		}
		if got != d.SHA256 {
			return &domain.IntegrityError{Item: "deliverable:" + d.Name, Expected: d.SHA256, Actual: got}
		}
		delete(stored, d.Name)
	}
	if len(stored) > 0 {
		extra := make([]string, 0, len(stored))
		for name := range stored {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return &domain.IntegrityError{Item: "deliverable:" + extra[0], Expected: "absent", Actual: stored[extra[0]]}
	}
	if got := DeliverablesHash(m.Deliverables); got != m.Integrity.DeliverablesHash {
		return &domain.IntegrityError{Item: "integrity", Expected: m.Integrity.DeliverablesHash, Actual: got}
	}
	return nil
}

// checkEvidence confirms every evidence the manifest cites is still completed
// with the same token. Completed evidence is never rewritten, so any
// difference is tampering.
func (a *Assembler) checkEvidence(ctx context.Context, companyID uuid.UUID, cited []ManifestEvidence, rootIDs map[string]string) error {
	if len(cited) == 0 {
		return nil
	}
	refs := make([]string, 0, len(cited))
	refOf := make(map[int]string, len(cited))
	for i, e := range cited {
		ref := e.Subject
		if e.Type == string(domain.EvidenceTypeDailyTimestamp) {
			ref = rootIDs[e.Subject]
		}
		refOf[i] = ref
		refs = append(refs, ref)
	}

	rows, err := a.src.Evidence.ListBySubjects(ctx, companyID, refs)
	if err != nil {
		return fmt.Errorf("export.Assembler.Verify: evidence: %w", err)
	}
	tokens := make(map[string]string, len(rows))
	for _, ev := range rows {
		if ev.Status == domain.EvidenceStatusCompleted {
			tokens[string(ev.Type)+"|"+ev.SubjectRef] = ev.TSPToken
		}
	}

	for i, e := range cited {
		got, ok := tokens[e.Type+"|"+refOf[i]]
		if !ok {
			got = "missing"
		}
		if got != e.TSPToken {
			return &domain.IntegrityError{Item: "evidence:" + e.Subject, Expected: e.TSPToken, Actual: got}
		}
	}
	return nil
}

func (a *Assembler) validate(req Request) error {
	if req.CompanyID == uuid.Nil {
		return domain.NewValidationError("company_id", "required")
	}
	from, err := domain.ParseDate("from", req.From)
	if err != nil {
		return err
	}
	to, err := domain.ParseDate("to", req.To)
	if err != nil {
		return err
	}
	if to.Before(from) {
		return domain.NewValidationError("to", "must not be before from")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > a.cfg.MaxRangeDays {
		return domain.NewValidationError("to", "period exceeds "+strconv.Itoa(a.cfg.MaxRangeDays)+" days")
	}
	return nil
}

// load reads every input of the period concurrently.
func (a *Assembler) load(ctx context.Context, companyID uuid.UUID, from, to string, c domain.PackageComponents) (*inputs, error) {
	company, err := a.src.Companies.GetByID(ctx, companyID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("company_id", "unknown company")
	}
	if err != nil {
		return nil, fmt.Errorf("company: %w", err)
	}

	fromDay, err := domain.ParseDate("from", from)
	if err != nil {
		return nil, err
	}
	toDay, err := domain.ParseDate("to", to)
	if err != nil {
		return nil, err
	}

	in := &inputs{
		company:  company,
		loc:      company.Location(),
		from:     from,
		to:       to,
		provider: a.cfg.Provider,
	}
	start, _ := dailyroot.DayBounds(fromDay, in.loc)
	_, end := dailyroot.DayBounds(toDay, in.loc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := a.src.Events.ListBetween(gctx, companyID, start, end)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		in.events = events
		return nil
	})
	g.Go(func() error {
		roots, err := a.src.Roots.ListBetween(gctx, companyID, from, to)
		if err != nil {
			return fmt.Errorf("daily roots: %w", err)
		}
		sort.SliceStable(roots, func(i, j int) bool { return roots[i].Date < roots[j].Date })
		refs := make([]string, 0, len(roots)+12)
		for _, r := range roots {
			refs = append(refs, r.ID.String())
		}
		refs = append(refs, monthsBetween(fromDay, toDay)...)
		evidence, err := a.src.Evidence.ListBySubjects(gctx, companyID, refs)
		if err != nil {
			return fmt.Errorf("evidence: %w", err)
		}
		in.roots = roots
		in.evidence = evidence
		return nil
	})
	g.Go(func() error {
		employees, err := a.src.Employees.ListActive(gctx, companyID)
		if err != nil {
			return fmt.Errorf("employees: %w", err)
		}
		in.employees = employees
		return nil
	})
	g.Go(func() error {
		corrections, err := a.src.Corrections.ListBetween(gctx, companyID, from, to)
		if err != nil {
			return fmt.Errorf("corrections: %w", err)
		}
		in.corrections = corrections
		return nil
	})
	if c.LaborCalendar {
		g.Go(func() error {
			cals, err := a.src.Calendars.ListByYears(gctx, companyID, fromDay.Year(), toDay.Year())
			if err != nil {
				return fmt.Errorf("labor calendars: %w", err)
			}
			in.calendars = cals
			return nil
		})
	}
	if c.Policies {
		g.Go(func() error {
			docs, err := a.src.Policies.ListPublished(gctx, companyID)
			if err != nil {
				return fmt.Errorf("policies: %w", err)
			}
			in.policies = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func monthsBetween(from, to time.Time) []string {
	var out []string
	for m := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(to); m = m.AddDate(0, 1, 0) {
		out = append(out, m.Format(domain.YearMonthLayout))
	}
	return out
}

// assemble derives the deliverables and the manifest from in. It is pure:
// equal inputs give byte-identical output.
func assemble(in *inputs, c domain.PackageComponents, ref *domain.ITSSReference) (*domain.Package, *Manifest, error) {
	var deliverables []domain.Deliverable

	if c.DailyRecord {
		d, err := in.dailyRecord()
		if err != nil {
			return nil, nil, err
		}
		deliverables = append(deliverables, d)
	}
	if c.LaborCalendar {
		d, err := in.laborCalendar()
		if err != nil {
			return nil, nil, err
		}
		deliverables = append(deliverables, d)
	}
	if c.Policies {
		deliverables = append(deliverables, in.policyDocuments()...)
	}
	if c.EmployeeSummary {
		d, err := in.employeeSummary()
		if err != nil {
			return nil, nil, err
		}
		deliverables = append(deliverables, d)
	}
	d, err := in.qtspEvidence()
	if err != nil {
		return nil, nil, err
	}
	deliverables = append(deliverables, d)

	m := in.manifest(c, ref, deliverables)
	raw, err := EncodeManifest(m)
	if err != nil {
		return nil, nil, err
	}

	pkg := &domain.Package{
		CompanyID:    in.company.ID,
		PeriodStart:  in.from,
		PeriodEnd:    in.to,
		Components:   c,
		Reference:    ref,
		Manifest:     raw,
		ManifestHash: sha256Hex(raw),
		Deliverables: deliverables,
	}
	return pkg, m, nil
}

func (in *inputs) manifest(c domain.PackageComponents, ref *domain.ITSSReference, deliverables []domain.Deliverable) *Manifest {
	m := &Manifest{
		Version: ManifestVersion,
		Company: ManifestCompany{
			ID:    in.company.ID.String(),
			Name:  in.company.Name,
			TaxID: in.company.TaxID,
		},
		Period: ManifestPeriod{Start: in.from, End: in.to},
		Components: ManifestComponents{
			DailyRecord:     c.DailyRecord,
			LaborCalendar:   c.LaborCalendar,
			Policies:        c.Policies,
			EmployeeSummary: c.EmployeeSummary,
		},
		Deliverables: make([]ManifestDeliverable, 0, len(deliverables)),
		DailyRoots:   make([]ManifestRoot, 0, len(in.roots)),
		Evidence:     make([]ManifestEvidence, 0),
		PreChecks:    in.preChecks(),
	}
	if ref != nil {
		m.Reference = &ManifestReference{
			ExpedientNumber: ref.ExpedientNumber,
			RequestDate:     ref.RequestDate,
			ContactPerson:   ref.ContactPerson,
		}
	}
	for _, d := range deliverables {
		m.Deliverables = append(m.Deliverables, ManifestDeliverable{Name: d.Name, Type: d.Type, SHA256: d.SHA256, Rows: d.Rows})
	}

	completed := in.completedBySubject()
	for _, r := range in.roots {
		m.DailyRoots = append(m.DailyRoots, ManifestRoot{Date: r.Date, RootHash: r.RootHash, EventCount: r.EventCount})
		if ev, ok := completed[r.ID.String()]; ok {
			m.Evidence = append(m.Evidence, manifestEvidence(ev, r.Date))
		}
	}
	for _, month := range monthsOf(in.from, in.to) {
		if ev, ok := completed[month]; ok && ev.Type == domain.EvidenceTypeMonthlyReport {
			m.Evidence = append(m.Evidence, manifestEvidence(ev, month))
		}
	}

	m.Integrity = ManifestIntegrity{
		Algorithm:        HashAlgorithm,
		DeliverablesHash: DeliverablesHash(m.Deliverables),
	}
	return m
}

func manifestEvidence(ev *domain.Evidence, subject string) ManifestEvidence {
	return ManifestEvidence{
		Type:         string(ev.Type),
		Subject:      subject,
		Hash:         ev.SubjectHash,
		TSPToken:     ev.TSPToken,
		TSPTimestamp: formatTime(ev.TSPTimestamp),
	}
}

func monthsOf(from, to string) []string {
	start, err := time.Parse(domain.DateLayout, from)
	if err != nil {
		return nil
	}
	end, err := time.Parse(domain.DateLayout, to)
	if err != nil {
		return nil
	}
	return monthsBetween(start, end)
}

// preChecks lists what an inspector would question about the period. Only
// findings are reported; a clean period yields an empty list.
func (in *inputs) preChecks() []PreCheck {
	checks := make([]PreCheck, 0, 4)
	add := func(kind, severity, message string, items []string) {
		if len(items) == 0 {
			return
		}
		shown := items
		if len(shown) > maxPreCheckItems {
			shown = shown[:maxPreCheckItems]
		}
		checks = append(checks, PreCheck{
			Kind:     kind,
			Severity: severity,
			Message:  fmt.Sprintf(message, len(items)),
			Count:    len(items),
			Items:    append([]string(nil), shown...),
		})
	}

	rootDates := make(map[string]bool, len(in.roots))
	for _, r := range in.roots {
		rootDates[r.Date] = true
	}
	eventDates := make(map[string]bool)
	for _, e := range in.events {
		eventDates[e.Timestamp.In(in.loc).Format(domain.DateLayout)] = true
	}
	gaps := make([]string, 0)
	for date := range eventDates {
		if !rootDates[date] {
			gaps = append(gaps, date)
		}
	}
	sort.Strings(gaps)
	add(PreCheckCoverageGap, SeverityError, "%d day(s) with events have no daily root", gaps)

	employees := in.employeeIndex()
	open := make([]string, 0)
	for _, d := range in.workdays() {
		if d.openEntry {
			label := d.key.employeeID.String()
			if code := employees[d.key.employeeID].code(); code != "" {
				label = code
			}
			open = append(open, d.key.date+" "+label)
		}
	}
	add(PreCheckOpenEntry, SeverityWarning, "%d employee-day(s) have an entry without a matching exit", open)

	pending := make([]string, 0)
	for _, c := range in.corrections {
		if c.Status == domain.CorrectionStatusPending {
			label := c.EmployeeID.String()
			if code := employees[c.EmployeeID].code(); code != "" {
				label = code
			}
			pending = append(pending, c.Date+" "+label)
		}
	}
	sort.Strings(pending)
	add(PreCheckUnresolvedCorrection, SeverityWarning, "%d correction request(s) are still pending", pending)

	completed := in.completedBySubject()
	incomplete := make([]string, 0)
	for _, r := range in.roots {
		if _, ok := completed[r.ID.String()]; !ok {
			incomplete = append(incomplete, r.Date)
		}
	}
	add(PreCheckIncompleteEvidence, SeverityWarning, "%d daily root(s) are not notarized", incomplete)

	return checks
}
