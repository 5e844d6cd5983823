package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gosuda/timeproof/internal/auditlog"
	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/messenger"
	"github.com/gosuda/timeproof/internal/metrics"
	"github.com/gosuda/timeproof/internal/qtsp"
	redisstore "github.com/gosuda/timeproof/internal/store/redis"
)

// Prober is the slice of the provider client the monitor needs.
type Prober interface {
	Health(ctx context.Context) qtsp.HealthReport
}

// Alerter delivers failure and recovery alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Alert(ctx context.Context, alert messenger.Alert) error
}

// Publisher fans out samples to realtime observers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Config struct {
	Interval  time.Duration
	Timeout   time.Duration
	Threshold int
	Provider  string
}

func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		Timeout:   5 * time.Second,
		Threshold: DefaultFailureThreshold,
		Provider:  "EADTRUST",
	}
}

// Snapshot is the current view of provider health.
type Snapshot struct {
	Status              Status    `json:"status"`
	LatencyMS           int64     `json:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	AlertActive         bool      `json:"alert_active"`
	AlertsEnabled       bool      `json:"alerts_enabled"`
	LastCheck           time.Time `json:"last_check"`
	Message             string    `json:"message,omitempty"`
}

// Monitor probes the provider on demand and owns the alerting policy.
// Concurrent Probe calls share one provider call.
type Monitor struct {
	prober    Prober
	store     StateStore
	alerter   Alerter
	audit     *auditlog.Recorder
	publisher Publisher
	cfg       Config
	now       func() time.Time

	flight singleflight.Group
	mu     sync.Mutex
}

func NewMonitor(prober Prober, store StateStore, alerter Alerter, audit *auditlog.Recorder, publisher Publisher, cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultFailureThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Monitor{
		prober:    prober,
		store:     store,
		alerter:   alerter,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) Interval() time.Duration { return m.cfg.Interval }

// Probe runs one health check. A call made while another is in flight waits
// for it and returns the same sample; shared reports whether that happened.
func (m *Monitor) Probe(ctx context.Context) (s Sample, shared bool, err error) {
	v, err, shared := m.flight.Do("probe", func() (any, error) {
		return m.probe(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Sample{}, shared, err
	}
	return v.(Sample), shared, nil
}

func (m *Monitor) probe(ctx context.Context) (Sample, error) {
	var (
		report qtsp.HealthReport
		status Status
	)
	start := m.now()

	_ = m.audit.Track(ctx, auditlog.Call{
		Action:  domain.AuditActionHealthCheck,
		Details: map[string]any{"provider": m.cfg.Provider},
	}, func(ctx context.Context, c *auditlog.Call) error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()

		report = m.prober.Health(callCtx)
		if report.Latency == 0 {
			report.Latency = m.now().Sub(start)
		}

		status = Classify(report.AuthOK, report.APIOK, report.Partial, report.Latency)
		c.Details["status"] = string(status)
		c.Details["latency_ms"] = report.Latency.Milliseconds()
		c.Details["auth_ok"] = report.AuthOK
		c.Details["api_ok"] = report.APIOK
		switch status {
		case StatusHealthy:
			return nil
		case StatusDegraded:
			c.Status = domain.AuditStatusWarning
		}
		if report.Message != "" {
			return errors.New(report.Message)
		}
		return errors.New(string(status))
	})

	sample := Sample{
		At:        m.now().UTC(),
		Status:    status,
		LatencyMS: report.Latency.Milliseconds(),
		AuthOK:    report.AuthOK,
		APIOK:     report.APIOK,
		Message:   report.Message,
	}

	transition, downtime, st, err := m.observe(ctx, sample)
	if err != nil {
		return sample, err
	}

	metrics.ObserveHealth(report.Latency, st.ConsecutiveFailures)
	m.publish(ctx, sample, st)

	if transition != TransitionNone {
		m.alert(ctx, transition, sample, st, downtime)
	}

	return sample, nil
}

func (m *Monitor) observe(ctx context.Context, s Sample) (Transition, time.Duration, State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Load(ctx)
	if err != nil {
		return TransitionNone, 0, State{}, fmt.Errorf("health.Monitor.observe: load: %w", err)
	}
	t, downtime := st.Observe(s, m.cfg.Threshold, m.cfg.Interval)
	if err := m.store.Save(ctx, st); err != nil {
		return TransitionNone, 0, State{}, fmt.Errorf("health.Monitor.observe: save: %w", err)
	}
	return t, downtime, *st, nil
}

func (m *Monitor) alert(ctx context.Context, t Transition, s Sample, st State, downtime time.Duration) {
	logger := log.With().Str("provider", m.cfg.Provider).Logger()

	var a messenger.Alert
	switch t {
	case TransitionFailure:
		logger.Error().Int("consecutive_failures", st.ConsecutiveFailures).Msg("qtsp provider unavailable")
		a = messenger.Alert{
			Severity: messenger.SeverityCritical,
			Title:    m.cfg.Provider + " unavailable",
			Text:     fmt.Sprintf("The trust service provider failed %d consecutive health checks.", st.ConsecutiveFailures),
			Fields: []messenger.Field{
				{Label: "Last status", Value: string(s.Status)},
				{Label: "Latency", Value: strconv.FormatInt(s.LatencyMS, 10) + " ms"},
				{Label: "Auth", Value: okText(s.AuthOK)},
				{Label: "API", Value: okText(s.APIOK)},
			},
		}
		if s.Message != "" {
			a.Fields = append(a.Fields, messenger.Field{Label: "Error", Value: s.Message})
		}
	case TransitionRecovery:
		logger.Info().Dur("downtime", downtime).Msg("qtsp provider recovered")
		a = messenger.Alert{
			Severity: messenger.SeverityResolved,
			Title:    m.cfg.Provider + " recovered",
			Text:     "The trust service provider is answering health checks again.",
			Fields: []messenger.Field{
				{Label: "Estimated downtime", Value: downtime.String()},
				{Label: "Latency", Value: strconv.FormatInt(s.LatencyMS, 10) + " ms"},
			},
		}
	}

	if !st.AlertsEnabled || m.alerter == nil {
		logger.Info().Str("title", a.Title).Msg("health alert suppressed")
		return
	}
	if err := m.alerter.Alert(ctx, a); err != nil {
		logger.Error().Err(err).Str("title", a.Title).Msg("health alert not delivered")
	}
}

// HealthEvent is published for every sample.
type HealthEvent struct {
	Type                string `json:"type"`
	Sample              Sample `json:"sample"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	AlertActive         bool   `json:"alert_active"`
}

func (m *Monitor) publish(ctx context.Context, s Sample, st State) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(HealthEvent{
		Type:                "qtsp.health",
		Sample:              s,
		ConsecutiveFailures: st.ConsecutiveFailures,
		AlertActive:         st.AlertActive,
	})
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, redisstore.HealthChannel(), payload); err != nil {
		log.Warn().Err(err).Msg("publish health sample")
	}
}

// Current returns the latest known health. Before the first probe the status
// is empty.
func (m *Monitor) Current(ctx context.Context) (Snapshot, error) {
	st, err := m.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ConsecutiveFailures: st.ConsecutiveFailures,
		AlertActive:         st.AlertActive,
		AlertsEnabled:       st.AlertsEnabled,
	}
	if last, ok := st.Last(); ok {
		snap.Status = last.Status
		snap.LatencyMS = last.LatencyMS
		snap.LastCheck = last.At
		snap.Message = last.Message
	}
	return snap, nil
}

func (m *Monitor) History(ctx context.Context) ([]Sample, error) {
	st, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.History(), nil
}

// SetAlertsEnabled toggles alert delivery. Threshold tracking continues while
// alerts are disabled.
func (m *Monitor) SetAlertsEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("health.Monitor.SetAlertsEnabled: %w", err)
	}
	st.AlertsEnabled = enabled
	if err := m.store.Save(ctx, st); err != nil {
		return fmt.Errorf("health.Monitor.SetAlertsEnabled: %w", err)
	}
	return nil
}

// Reset clears samples and counters.
func (m *Monitor) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("health.Monitor.Reset: %w", err)
	}
	st.Reset()
	if err := m.store.Save(ctx, st); err != nil {
		return fmt.Errorf("health.Monitor.Reset: %w", err)
	}
	return nil
}

func (m *Monitor) load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("health.Monitor: load: %w", err)
	}
	return st, nil
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "failing"
}
