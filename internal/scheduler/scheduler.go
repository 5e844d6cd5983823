// Package scheduler drives the recurring jobs: the nightly daily-root build
// and notarization, evidence retries, pending checks and health probes.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/evidence"
	"github.com/gosuda/timeproof/internal/health"
)

type RootBuilder interface {
	Build(ctx context.Context, companyID uuid.UUID, date string) (*domain.DailyRoot, bool, error)
}

type Notarizer interface {
	SubmitDailyRoot(ctx context.Context, companyID, rootID uuid.UUID) (*domain.Evidence, error)
	RetryFailed(ctx context.Context, companyID uuid.UUID) (evidence.RetryReport, error)
	CheckPending(ctx context.Context, companyID uuid.UUID) (evidence.CheckReport, error)
}

type Prober interface {
	Probe(ctx context.Context) (health.Sample, bool, error)
}

type Config struct {
	DailyInterval  time.Duration
	RetryInterval  time.Duration
	CheckInterval  time.Duration
	HealthInterval time.Duration
	// The daily build runs while the company-local hour is in
	// [WindowStartHour, WindowEndHour].
	WindowStartHour int
	WindowEndHour   int
	// CompanyConcurrency bounds how many companies are processed at once.
	CompanyConcurrency int
}

func DefaultConfig() Config {
	return Config{
		DailyInterval:      15 * time.Minute,
		RetryInterval:      5 * time.Minute,
		CheckInterval:      5 * time.Minute,
		HealthInterval:     30 * time.Second,
		WindowStartHour:    2,
		WindowEndHour:      5,
		CompanyConcurrency: 4,
	}
}

// DailyReport counts the outcome of one daily pass over all companies.
type DailyReport struct {
	Built     int
	Existing  int
	Skipped   int
	Deferred  int
	Submitted int
	Completed int
	Failed    int
	Outside   int
}

type Scheduler struct {
	companies domain.CompanyRepository
	roots     RootBuilder
	notarizer Notarizer
	prober    Prober
	cfg       Config
	now       func() time.Time

	probing atomic.Bool
}

func New(companies domain.CompanyRepository, roots RootBuilder, notarizer Notarizer, prober Prober, cfg Config) *Scheduler {
	if cfg.CompanyConcurrency <= 0 {
		cfg.CompanyConcurrency = 1
	}
	return &Scheduler{
		companies: companies,
		roots:     roots,
		notarizer: notarizer,
		prober:    prober,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run starts every loop and blocks until ctx is done. A loop with a
// non-positive interval is disabled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loop := func(name string, interval time.Duration, fn func(context.Context)) {
		if interval <= 0 {
			log.Info().Str("loop", name).Msg("scheduler loop disabled")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, interval, fn)
		}()
		log.Info().Str("loop", name).Dur("interval", interval).Msg("scheduler loop started")
	}

	loop("daily", s.cfg.DailyInterval, func(ctx context.Context) { s.RunDaily(ctx) })
	loop("retry", s.cfg.RetryInterval, func(ctx context.Context) { s.RunRetries(ctx) })
	loop("check", s.cfg.CheckInterval, func(ctx context.Context) { s.RunChecks(ctx) })
	if s.prober != nil {
		loop("health", s.cfg.HealthInterval, func(ctx context.Context) { s.ProbeHealth(ctx) })
	}

	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// every runs fn immediately and then on each tick. Ticks that fire while fn
// is still running are dropped by the ticker.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunDaily processes yesterday for every company currently inside its
// processing window.
func (s *Scheduler) RunDaily(ctx context.Context) DailyReport {
	var (
		report DailyReport
		mu     sync.Mutex
	)
	s.forEachCompany(ctx, "daily", func(ctx context.Context, c *domain.Company) {
		r := s.processCompany(ctx, c)

		mu.Lock()
		defer mu.Unlock()
		report.Built += r.Built
		report.Existing += r.Existing
		report.Skipped += r.Skipped
		report.Deferred += r.Deferred
		report.Submitted += r.Submitted
		report.Completed += r.Completed
		report.Failed += r.Failed
		report.Outside += r.Outside
	})
	return report
}

// InWindow reports whether t falls in the processing window in loc.
func (s *Scheduler) InWindow(t time.Time, loc *time.Location) bool {
	h := t.In(loc).Hour()
	return h >= s.cfg.WindowStartHour && h <= s.cfg.WindowEndHour
}

func (s *Scheduler) processCompany(ctx context.Context, c *domain.Company) DailyReport {
	var report DailyReport

	now := s.now()
	loc := c.Location()
	if !s.InWindow(now, loc) {
		report.Outside++
		return report
	}

	date := now.In(loc).AddDate(0, 0, -1).Format(domain.DateLayout)
	logger := log.With().Str("company_id", c.ID.String()).Str("date", date).Logger()

	root, created, err := s.roots.Build(ctx, c.ID, date)
	switch {
	case errors.Is(err, domain.ErrEmptyDay):
		report.Skipped++
		logger.Debug().Msg("no events, daily root skipped")
		return report
	case errors.Is(err, domain.ErrNotFinalized):
		report.Deferred++
		logger.Info().Msg("day not finalized, daily root deferred")
		return report
	case err != nil:
		report.Failed++
		logger.Error().Err(err).Msg("daily root build failed")
		return report
	case created:
		report.Built++
	default:
		report.Existing++
	}

	ev, err := s.notarizer.SubmitDailyRoot(ctx, c.ID, root.ID)
	if err != nil {
		report.Failed++
		logger.Error().Err(err).Msg("daily root submission failed")
		return report
	}
	report.Submitted++
	switch ev.Status {
	case domain.EvidenceStatusCompleted:
		report.Completed++
	case domain.EvidenceStatusFailed:
		report.Failed++
	}
	return report
}

// RunRetries runs the retry batch for every company.
func (s *Scheduler) RunRetries(ctx context.Context) evidence.RetryReport {
	var (
		total evidence.RetryReport
		mu    sync.Mutex
	)
	s.forEachCompany(ctx, "retry", func(ctx context.Context, c *domain.Company) {
		r, err := s.notarizer.RetryFailed(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Str("company_id", c.ID.String()).Msg("retry batch failed")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		total.Succeeded += r.Succeeded
		total.Failed += r.Failed
		total.Pending += r.Pending
		total.Exhausted += r.Exhausted
	})
	return total
}

// RunChecks polls stale processing evidence for every company.
func (s *Scheduler) RunChecks(ctx context.Context) evidence.CheckReport {
	var (
		total evidence.CheckReport
		mu    sync.Mutex
	)
	s.forEachCompany(ctx, "check", func(ctx context.Context, c *domain.Company) {
		r, err := s.notarizer.CheckPending(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Str("company_id", c.ID.String()).Msg("pending check failed")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		total.Checked += r.Checked
		total.Completed += r.Completed
		total.Failed += r.Failed
	})
	return total
}

// ProbeHealth runs one probe unless the previous scheduled probe is still in
// flight, in which case the tick is skipped. It reports whether a probe ran.
func (s *Scheduler) ProbeHealth(ctx context.Context) bool {
	if !s.probing.CompareAndSwap(false, true) {
		log.Debug().Msg("health probe still in flight, tick skipped")
		return false
	}
	defer s.probing.Store(false)

	if _, _, err := s.prober.Probe(ctx); err != nil {
		log.Error().Err(err).Msg("health probe failed")
	}
	return true
}

func (s *Scheduler) forEachCompany(ctx context.Context, job string, fn func(context.Context, *domain.Company)) {
	companies, err := s.companies.List(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", job).Msg("list companies")
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.CompanyConcurrency)
	for _, c := range companies {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}
