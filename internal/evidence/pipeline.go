package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/gosuda/timeproof/internal/artifact"
	"github.com/gosuda/timeproof/internal/auditlog"
	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/metrics"
	"github.com/gosuda/timeproof/internal/qtsp"
	redisstore "github.com/gosuda/timeproof/internal/store/redis"
)

type Config struct {
	// CallTimeout bounds every provider call.
	CallTimeout time.Duration
	// MaxConcurrency is the number of provider calls in flight per company.
	MaxConcurrency    int
	RequestsPerSecond float64
	Burst             int
	// ProcessingSLA is how long evidence may stay in processing before
	// CheckPending polls the provider for it.
	ProcessingSLA time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

func DefaultConfig() Config {
	return Config{
		CallTimeout:       30 * time.Second,
		MaxConcurrency:    3,
		RequestsPerSecond: 2,
		Burst:             4,
		ProcessingSLA:     10 * time.Minute,
		MaxRetries:        10,
		BackoffBase:       60 * time.Second,
		BackoffMax:        time.Hour,
	}
}

// Publisher fans out status changes to realtime observers.
// *redis.PubSub satisfies this interface.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Pipeline struct {
	evidence  domain.EvidenceRepository
	roots     domain.DailyRootRepository
	groups    *GroupManager
	client    qtsp.Client
	audit     *auditlog.Recorder
	artifacts artifact.Store
	publisher Publisher
	cfg       Config
	now       func() time.Time
	jitter    func() float64

	mu       sync.Mutex
	limiters map[uuid.UUID]*companyLimiter
}

type companyLimiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

func NewPipeline(
	evidence domain.EvidenceRepository,
	roots domain.DailyRootRepository,
	groups *GroupManager,
	client qtsp.Client,
	audit *auditlog.Recorder,
	artifacts artifact.Store,
	publisher Publisher,
	cfg Config,
) *Pipeline {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Pipeline{
		evidence:  evidence,
		roots:     roots,
		groups:    groups,
		client:    client,
		audit:     audit,
		artifacts: artifacts,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		jitter:    func() float64 { return rand.Float64()*2 - 1 },
		limiters:  make(map[uuid.UUID]*companyLimiter),
	}
}

// WithClock overrides the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithJitter overrides the backoff jitter source, which must return a value
// in [-1, 1].
func (p *Pipeline) WithJitter(jitter func() float64) *Pipeline {
	p.jitter = jitter
	return p
}

// SubmitDailyRoot notarizes a stored daily root.
func (p *Pipeline) SubmitDailyRoot(ctx context.Context, companyID, rootID uuid.UUID) (*domain.Evidence, error) {
	root, err := p.roots.GetByID(ctx, companyID, rootID)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.SubmitDailyRoot: %w", err)
	}
	return p.Submit(ctx, DailySubject(root))
}

// Submit records the subject as evidence and notarizes it. Evidence is unique
// per (group, type, subject ref): a completed subject is returned unchanged,
// one already in processing is left to CheckPending.
//
// Provider failures are recorded on the returned evidence, not returned as
// errors. The error is non-nil only for invalid input, storage failures and
// ErrConflict when a month is resubmitted with a different document after it
// was sealed.
func (p *Pipeline) Submit(ctx context.Context, s Subject) (*domain.Evidence, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	group, err := p.groups.GetOrCreate(ctx, s.CompanyID, s.YearMonth)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.Submit: %w", err)
	}

	now := p.now().UTC()
	ev, created, err := p.evidence.GetOrCreate(ctx, &domain.Evidence{
		ID:          uuid.New(),
		CompanyID:   s.CompanyID,
		GroupID:     group.ID,
		Type:        s.Type,
		SubjectRef:  s.Ref,
		SubjectHash: s.Hash,
		Status:      domain.EvidenceStatusPending,
		SourceRef:   s.SourceRef,
		FileName:    s.FileName,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.Submit: %w", err)
	}
	if created {
		p.transitioned(ctx, ev)
	}

	switch ev.Status {
	case domain.EvidenceStatusCompleted:
		if ev.SubjectHash != s.Hash {
			return ev, fmt.Errorf("evidence.Pipeline.Submit: %s %s was notarized with a different hash: %w",
				s.Type, s.Ref, domain.ErrConflict)
		}
		return ev, nil
	case domain.EvidenceStatusProcessing:
		return ev, nil
	}

	if ev.SubjectHash != s.Hash || ev.SourceRef != s.SourceRef {
		err = p.evidence.ReplaceSubject(ctx, ev.CompanyID, ev.ID, s.Hash, s.FileName, s.SourceRef)
		if err != nil {
			return nil, fmt.Errorf("evidence.Pipeline.Submit: replace subject: %w", err)
		}
		ev.SubjectHash, ev.FileName, ev.SourceRef = s.Hash, s.FileName, s.SourceRef
	}

	return p.attempt(ctx, ev, group, s)
}

// SealPDF seals a rendered monthly report. The original document is stored so
// that a failed seal can be retried later.
func (p *Pipeline) SealPDF(ctx context.Context, companyID uuid.UUID, pdf []byte, month, fileName string) (*domain.Evidence, error) {
	if _, err := domain.ParseYearMonth("report_month", month); err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, domain.NewValidationError("pdf", "is empty")
	}
	fileName = path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "informe_" + month + ".pdf"
	}

	s := ReportSubject(companyID, month, fileName, pdf)

	existing, err := p.evidence.GetBySubject(ctx, companyID, domain.EvidenceTypeMonthlyReport, month)
	switch {
	case err == nil && existing.Status == domain.EvidenceStatusCompleted:
		if existing.SubjectHash != s.Hash {
			return existing, fmt.Errorf("evidence.Pipeline.SealPDF: %s already sealed with a different document: %w",
				month, domain.ErrConflict)
		}
		return existing, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("evidence.Pipeline.SealPDF: %w", err)
	}

	ref, err := p.artifacts.Put(ctx, fmt.Sprintf("reports/%s/%s/%s.pdf", companyID, month, s.Hash), pdf)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.SealPDF: store original: %w", err)
	}
	s.SourceRef = ref

	return p.Submit(ctx, s)
}

// Retry resubmits one evidence regardless of its retry schedule. Completed and
// processing evidence is returned unchanged.
func (p *Pipeline) Retry(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	ev, err := p.evidence.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.Retry: %w", err)
	}
	if ev.Status == domain.EvidenceStatusCompleted || ev.Status == domain.EvidenceStatusProcessing {
		return ev, nil
	}
	return p.resubmit(ctx, ev)
}

// RetryFailed resubmits every failed evidence of the company whose retry time
// has come. One bad item never aborts the batch.
func (p *Pipeline) RetryFailed(ctx context.Context, companyID uuid.UUID) (RetryReport, error) {
	var report RetryReport

	list, err := p.evidence.ListRetryable(ctx, companyID, p.now().UTC(), p.cfg.MaxRetries)
	if err != nil {
		return report, fmt.Errorf("evidence.Pipeline.RetryFailed: %w", err)
	}
	report.Exhausted, err = p.evidence.CountExhausted(ctx, companyID, p.cfg.MaxRetries)
	if err != nil {
		return report, fmt.Errorf("evidence.Pipeline.RetryFailed: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.MaxConcurrency)

	for _, ev := range list {
		g.Go(func() error {
			out, err := p.resubmit(ctx, ev)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				log.Error().Err(err).
					Str("company_id", companyID.String()).
					Str("evidence_id", ev.ID.String()).
					Msg("evidence retry aborted")
			case out.Status == domain.EvidenceStatusCompleted:
				report.Succeeded++
			case out.Status == domain.EvidenceStatusProcessing:
				report.Pending++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(list) > 0 {
		log.Info().
			Str("company_id", companyID.String()).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("pending", report.Pending).
			Int("exhausted", report.Exhausted).
			Msg("retry batch finished")
	}

	return report, nil
}

// CheckPending polls the provider for evidence that has been processing longer
// than the SLA. Evidence stuck without a provider reference is marked failed so
// that RetryFailed picks it up.
func (p *Pipeline) CheckPending(ctx context.Context, companyID uuid.UUID) (CheckReport, error) {
	var report CheckReport

	cutoff := p.now().UTC().Add(-p.cfg.ProcessingSLA)
	list, err := p.evidence.ListProcessingBefore(ctx, companyID, cutoff)
	if err != nil {
		return report, fmt.Errorf("evidence.Pipeline.CheckPending: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.MaxConcurrency)

	for _, ev := range list {
		g.Go(func() error {
			out, err := p.check(ctx, ev)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				log.Warn().Err(err).
					Str("company_id", companyID.String()).
					Str("evidence_id", ev.ID.String()).
					Msg("evidence status check failed")
			case out.Status == domain.EvidenceStatusCompleted:
				report.Completed++
			case out.Status == domain.EvidenceStatusFailed:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

func (p *Pipeline) Get(ctx context.Context, companyID, id uuid.UUID) (*domain.Evidence, error) {
	ev, err := p.evidence.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.Get: %w", err)
	}
	return ev, nil
}

func (p *Pipeline) List(ctx context.Context, companyID uuid.UUID, status domain.EvidenceStatus, limit, offset int) ([]*domain.Evidence, error) {
	if status != "" && !status.Valid() {
		return nil, domain.NewValidationError("status", "unknown status "+string(status))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	list, err := p.evidence.List(ctx, companyID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.List: %w", err)
	}
	return list, nil
}

// resubmit rebuilds the subject of a stored evidence and attempts it again.
func (p *Pipeline) resubmit(ctx context.Context, ev *domain.Evidence) (*domain.Evidence, error) {
	group, err := p.groups.Group(ctx, ev.GroupID)
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.resubmit: %w", err)
	}

	s, err := p.subjectOf(ctx, ev, group)
	if err != nil {
		if domain.IsRetryable(err) {
			return nil, fmt.Errorf("evidence.Pipeline.resubmit: %w", err)
		}
		// The subject can no longer be rebuilt: park it as terminal.
		return p.failUnattempted(ctx, ev, err.Error(), true)
	}

	return p.attempt(ctx, ev, group, s)
}

func (p *Pipeline) subjectOf(ctx context.Context, ev *domain.Evidence, group *domain.EvidenceGroup) (Subject, error) {
	switch ev.Type {
	case domain.EvidenceTypeDailyTimestamp:
		rootID, err := uuid.Parse(ev.SubjectRef)
		if err != nil {
			return Subject{}, domain.NewValidationError("subject_ref", "not a daily root id")
		}
		root, err := p.roots.GetByID(ctx, ev.CompanyID, rootID)
		if errors.Is(err, domain.ErrNotFound) {
			return Subject{}, domain.NewValidationError("subject_ref", "daily root no longer exists")
		}
		if err != nil {
			return Subject{}, err
		}
		return DailySubject(root), nil

	case domain.EvidenceTypeMonthlyReport:
		if ev.SourceRef == "" {
			return Subject{}, domain.NewValidationError("source_ref", "original report was not stored")
		}
		pdf, err := p.artifacts.Get(ctx, ev.SourceRef)
		if errors.Is(err, domain.ErrNotFound) {
			return Subject{}, domain.NewValidationError("source_ref", "original report is missing")
		}
		if err != nil {
			return Subject{}, err
		}
		s := ReportSubject(ev.CompanyID, group.YearMonth, ev.FileName, pdf)
		s.Ref = ev.SubjectRef
		s.SourceRef = ev.SourceRef
		return s, nil

	default:
		return Subject{}, domain.NewValidationError("type", "unknown evidence type "+string(ev.Type))
	}
}

// attempt makes one provider call for ev. Exactly one audit entry is written
// for it. State writes after the call survive cancellation of ctx.
func (p *Pipeline) attempt(ctx context.Context, ev *domain.Evidence, group *domain.EvidenceGroup, s Subject) (*domain.Evidence, error) {
	release, err := p.acquire(ctx, ev.CompanyID)
	if err != nil {
		return ev, fmt.Errorf("evidence.Pipeline.attempt: %w", err)
	}
	defer release()

	from := ev.Status
	processing, err := p.evidence.MarkProcessing(ctx, ev.CompanyID, ev.ID, from)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Someone else moved it first.
		current, gerr := p.evidence.GetByID(ctx, ev.CompanyID, ev.ID)
		if gerr != nil {
			return nil, fmt.Errorf("evidence.Pipeline.attempt: reload: %w", gerr)
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.attempt: %w", err)
	}
	ev = processing
	p.transitioned(ctx, ev)

	persistCtx := context.WithoutCancel(ctx)

	group, err = p.groups.EnsureRemote(ctx, group)
	if err != nil {
		// The subject never reached the provider, so a conflict here says
		// nothing about a previous seal.
		return p.fail(persistCtx, ev, "evidence group: "+err.Error(),
			!domain.IsRetryable(err) && !errors.Is(err, domain.ErrAlreadySealed))
	}

	action := domain.AuditActionNotarize
	if s.Type == domain.EvidenceTypeMonthlyReport {
		action = domain.AuditActionSeal
	}
	if from == domain.EvidenceStatusFailed {
		action = domain.AuditActionRetry
	}

	var res qtsp.Result
	callErr := p.audit.Track(ctx, auditlog.Call{
		CompanyID:  &ev.CompanyID,
		EvidenceID: &ev.ID,
		Action:     action,
		Details: map[string]any{
			"type":        string(s.Type),
			"subject_ref": s.Ref,
			"hash":        s.Hash,
			"attempt":     ev.RetryCount + 1,
			"group":       group.ExternalID,
		},
	}, func(ctx context.Context, c *auditlog.Call) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		var err error
		if s.Type == domain.EvidenceTypeMonthlyReport {
			res, err = p.client.Seal(callCtx, qtsp.SealRequest{
				GroupRef:    group.ExternalID,
				Name:        s.Name,
				Description: s.Description,
				Hash:        s.Hash,
				FileName:    s.FileName,
				Content:     s.Content,
			})
		} else {
			res, err = p.client.Notarize(callCtx, qtsp.NotarizeRequest{
				GroupRef:    group.ExternalID,
				Name:        s.Name,
				Description: s.Description,
				Hash:        s.Hash,
			})
		}
		if err == nil {
			annotate(c, res)
		}
		return err
	})

	return p.settle(persistCtx, ev, res, callErr)
}

// check polls the provider once for a processing evidence.
func (p *Pipeline) check(ctx context.Context, ev *domain.Evidence) (*domain.Evidence, error) {
	persistCtx := context.WithoutCancel(ctx)

	if ev.ExternalID == "" {
		return p.failUnattempted(persistCtx, ev, "no provider reference after processing SLA", false)
	}

	release, err := p.acquire(ctx, ev.CompanyID)
	if err != nil {
		return ev, err
	}
	defer release()

	res, err := p.status(ctx, ev, ev.ExternalID)
	if err != nil {
		return ev, err
	}

	switch res.Kind {
	case qtsp.KindOK:
		return p.complete(persistCtx, ev, res, "")
	case qtsp.KindFailed:
		return p.fail(persistCtx, ev, res.Reason, false)
	default:
		return ev, nil
	}
}

func (p *Pipeline) status(ctx context.Context, ev *domain.Evidence, ref string) (qtsp.Result, error) {
	var res qtsp.Result
	err := p.audit.Track(ctx, auditlog.Call{
		CompanyID:  &ev.CompanyID,
		EvidenceID: &ev.ID,
		Action:     domain.AuditActionStatusCheck,
		Details:    map[string]any{"ref": ref},
	}, func(ctx context.Context, c *auditlog.Call) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		var err error
		res, err = p.client.Status(callCtx, ref)
		if err == nil {
			annotate(c, res)
		}
		return err
	})
	return res, err
}

func annotate(c *auditlog.Call, res qtsp.Result) {
	c.Details["result"] = string(res.Kind)
	if res.Ref != "" {
		c.Details["ref"] = res.Ref
	}
	switch res.Kind {
	case qtsp.KindPending:
		c.Status = domain.AuditStatusWarning
	case qtsp.KindFailed:
		c.Status = domain.AuditStatusError
		c.Details["reason"] = res.Reason
	}
}

func (p *Pipeline) settle(ctx context.Context, ev *domain.Evidence, res qtsp.Result, callErr error) (*domain.Evidence, error) {
	switch {
	case callErr == nil:
		switch res.Kind {
		case qtsp.KindOK:
			return p.complete(ctx, ev, res, "")
		case qtsp.KindPending:
			if res.Ref != "" && res.Ref != ev.ExternalID {
				if err := p.evidence.SetExternalID(ctx, ev.CompanyID, ev.ID, res.Ref); err != nil {
					return nil, fmt.Errorf("evidence.Pipeline.settle: %w", err)
				}
				ev.ExternalID = res.Ref
			}
			return ev, nil
		default:
			return p.fail(ctx, ev, res.Reason, false)
		}

	case errors.Is(callErr, domain.ErrAlreadySealed):
		return p.alreadySealed(ctx, ev, res)

	case !domain.IsRetryable(callErr):
		return p.fail(ctx, ev, callErr.Error(), true)

	default:
		return p.fail(ctx, ev, callErr.Error(), false)
	}
}

// alreadySealed completes evidence the provider reports as sealed before,
// without counting a failed attempt. When the conflict carries no token the
// provider's record is looked up once.
func (p *Pipeline) alreadySealed(ctx context.Context, ev *domain.Evidence, res qtsp.Result) (*domain.Evidence, error) {
	if res.Token != "" || len(res.Artifact) > 0 {
		return p.complete(ctx, ev, res, "")
	}

	ref := res.Ref
	if ref == "" {
		ref = ev.ExternalID
	}
	if ref != "" {
		if ref != ev.ExternalID {
			if err := p.evidence.SetExternalID(ctx, ev.CompanyID, ev.ID, ref); err != nil {
				return nil, fmt.Errorf("evidence.Pipeline.alreadySealed: %w", err)
			}
			ev.ExternalID = ref
		}
		st, err := p.status(ctx, ev, ref)
		if err == nil && st.Kind == qtsp.KindOK {
			return p.complete(ctx, ev, st, "")
		}
		// Leave it processing; CheckPending resolves it through the reference.
		return ev, nil
	}

	return p.complete(ctx, ev, res, "already sealed at provider; token not returned")
}

func (p *Pipeline) complete(ctx context.Context, ev *domain.Evidence, res qtsp.Result, note string) (*domain.Evidence, error) {
	now := p.now().UTC()
	c := domain.Completion{
		Token:       res.Token,
		Timestamp:   res.Timestamp,
		CompletedAt: now,
		Note:        note,
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}

	if len(res.Artifact) > 0 {
		ref, err := p.artifacts.Put(ctx, sealedKey(ev), res.Artifact)
		if err != nil {
			return p.fail(ctx, ev, "store sealed artifact: "+err.Error(), false)
		}
		c.ArtifactRef = ref
	}

	if res.Ref != "" && res.Ref != ev.ExternalID {
		if err := p.evidence.SetExternalID(ctx, ev.CompanyID, ev.ID, res.Ref); err != nil {
			return nil, fmt.Errorf("evidence.Pipeline.complete: %w", err)
		}
	}

	stored, err := p.evidence.MarkCompleted(ctx, ev.CompanyID, ev.ID, c)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return p.evidence.GetByID(ctx, ev.CompanyID, ev.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.complete: %w", err)
	}

	p.transitioned(ctx, stored)
	return stored, nil
}

// fail records a failed attempt. The first failure is immediately retryable;
// later ones back off exponentially.
func (p *Pipeline) fail(ctx context.Context, ev *domain.Evidence, reason string, terminal bool) (*domain.Evidence, error) {
	f := domain.Failure{Reason: reason, Terminal: terminal, CountAttempt: true}
	if !terminal && ev.RetryCount > 0 {
		f.BackoffSeconds = p.nextBackoff(ev.BackoffSeconds)
		next := p.now().UTC().Add(time.Duration(f.BackoffSeconds) * time.Second)
		f.NextRetryAt = &next
	}
	return p.markFailed(ctx, ev, f)
}

// failUnattempted marks evidence failed without counting a provider attempt.
func (p *Pipeline) failUnattempted(ctx context.Context, ev *domain.Evidence, reason string, terminal bool) (*domain.Evidence, error) {
	if ev.Status != domain.EvidenceStatusProcessing {
		processing, err := p.evidence.MarkProcessing(ctx, ev.CompanyID, ev.ID, ev.Status)
		if err != nil {
			return nil, fmt.Errorf("evidence.Pipeline.failUnattempted: %w", err)
		}
		ev = processing
	}
	return p.markFailed(ctx, ev, domain.Failure{Reason: reason, Terminal: terminal})
}

func (p *Pipeline) markFailed(ctx context.Context, ev *domain.Evidence, f domain.Failure) (*domain.Evidence, error) {
	stored, err := p.evidence.MarkFailed(ctx, ev.CompanyID, ev.ID, f)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return p.evidence.GetByID(ctx, ev.CompanyID, ev.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("evidence.Pipeline.markFailed: %w", err)
	}

	log.Warn().
		Str("company_id", stored.CompanyID.String()).
		Str("evidence_id", stored.ID.String()).
		Int("retry_count", stored.RetryCount).
		Bool("terminal", stored.Terminal).
		Str("reason", f.Reason).
		Msg("evidence failed")

	p.transitioned(ctx, stored)
	return stored, nil
}

// nextBackoff starts at base and doubles the previous delay up to max, with
// ±10% jitter. Result in seconds.
func (p *Pipeline) nextBackoff(prevSeconds int) int {
	base := int(p.cfg.BackoffBase / time.Second)
	ceiling := int(p.cfg.BackoffMax / time.Second)
	d := min(base, ceiling)
	if prevSeconds > 0 {
		d = min(max(prevSeconds*2, base), ceiling)
	}
	return int(math.Round(float64(d) + float64(d)*0.1*p.jitter()))
}

func (p *Pipeline) acquire(ctx context.Context, companyID uuid.UUID) (func(), error) {
	l := p.limiter(companyID)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.rate.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}

func (p *Pipeline) limiter(companyID uuid.UUID) *companyLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[companyID]
	if !ok {
		limit := rate.Inf
		if p.cfg.RequestsPerSecond > 0 {
			limit = rate.Limit(p.cfg.RequestsPerSecond)
		}
		l = &companyLimiter{
			sem:  semaphore.NewWeighted(int64(p.cfg.MaxConcurrency)),
			rate: rate.NewLimiter(limit, max(p.cfg.Burst, 1)),
		}
		p.limiters[companyID] = l
	}
	return l
}

func (p *Pipeline) transitioned(ctx context.Context, ev *domain.Evidence) {
	metrics.EvidenceTransition(string(ev.Status))

	if p.publisher == nil {
		return
	}
	payload, err := json.Marshal(StatusEvent{
		Type:         "evidence.status",
		EvidenceID:   ev.ID,
		CompanyID:    ev.CompanyID,
		EvidenceType: string(ev.Type),
		SubjectRef:   ev.SubjectRef,
		Status:       string(ev.Status),
		RetryCount:   ev.RetryCount,
		Error:        ev.ErrorMessage,
		At:           p.now().UTC(),
	})
	if err != nil {
		return
	}
	err = p.publisher.Publish(context.WithoutCancel(ctx), redisstore.EvidenceChannel(ev.CompanyID), payload)
	if err != nil {
		log.Warn().Err(err).Str("evidence_id", ev.ID.String()).Msg("publish evidence status")
	}
}

func sealedKey(ev *domain.Evidence) string {
	name := strings.TrimSuffix(ev.FileName, path.Ext(ev.FileName))
	if name == "" {
		name = ev.ID.String()
	}
	return fmt.Sprintf("sealed/%s/%s/%s_sealed.pdf", ev.CompanyID, ev.SubjectRef, name)
}
