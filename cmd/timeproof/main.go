package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/timeproof/internal/artifact"
	"github.com/gosuda/timeproof/internal/auditlog"
	"github.com/gosuda/timeproof/internal/config"
	"github.com/gosuda/timeproof/internal/dailyroot"
	"github.com/gosuda/timeproof/internal/evidence"
	"github.com/gosuda/timeproof/internal/export"
	"github.com/gosuda/timeproof/internal/health"
	"github.com/gosuda/timeproof/internal/messenger/slack"
	"github.com/gosuda/timeproof/internal/notify"
	"github.com/gosuda/timeproof/internal/qtsp"
	"github.com/gosuda/timeproof/internal/scheduler"
	"github.com/gosuda/timeproof/internal/server"
	"github.com/gosuda/timeproof/internal/store/postgres"
	redisstore "github.com/gosuda/timeproof/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("TIMEPROOF_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("TIMEPROOF_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	if err := postgres.Migrate(cfg.Database.URL()); err != nil {
		return err
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	artifacts, err := artifact.NewFileStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return err
	}

	audit := auditlog.NewRecorder(store.Audit())

	client := qtsp.NewHTTPClient(qtsp.Config{
		APIURL:       cfg.QTSP.APIURL,
		TokenURL:     cfg.QTSP.TokenURL,
		ClientID:     cfg.QTSP.ClientID,
		ClientSecret: cfg.QTSP.ClientSecret,
		Provider:     cfg.QTSP.Provider,
		Timeout:      cfg.QTSP.RequestTimeout,
	})

	builder := dailyroot.NewBuilder(store.Companies(), store.TimeEvents(), store.DailyRoots())

	groups := evidence.NewGroupManager(
		store.Companies(),
		store.CaseFiles(),
		store.EvidenceGroups(),
		client,
		audit,
		cfg.QTSP.RequestTimeout,
	)

	pipeline := evidence.NewPipeline(
		store.Evidence(),
		store.DailyRoots(),
		groups,
		client,
		audit,
		artifacts,
		pubsub,
		evidence.Config{
			CallTimeout:       cfg.QTSP.RequestTimeout,
			MaxConcurrency:    cfg.QTSP.MaxConcurrency,
			RequestsPerSecond: cfg.QTSP.RequestsPerSecond,
			Burst:             cfg.QTSP.Burst,
			ProcessingSLA:     cfg.QTSP.ProcessingSLA,
			MaxRetries:        cfg.QTSP.MaxRetries,
			BackoffBase:       cfg.QTSP.BackoffBase,
			BackoffMax:        cfg.QTSP.BackoffMax,
		},
	)

	exporter := export.NewAssembler(
		export.Sources{
			Companies:   store.Companies(),
			Events:      store.TimeEvents(),
			Roots:       store.DailyRoots(),
			Evidence:    store.Evidence(),
			Employees:   store.Employees(),
			Calendars:   store.LaborCalendars(),
			Policies:    store.PolicyDocuments(),
			Corrections: store.Corrections(),
		},
		store.Packages(),
		builder,
		export.Config{MaxRangeDays: cfg.Export.MaxRangeDays, Provider: cfg.QTSP.Provider},
	)

	// Alerts go to Slack when a bot token and channel are configured,
	// otherwise the notifier only logs.
	messengers := notify.NewRegistry()
	var targets []notify.Target
	if cfg.Slack.BotToken != "" && cfg.Slack.AlertChannel != "" {
		sm := slack.NewSlackMessenger(slacklib.New(cfg.Slack.BotToken))
		messengers.Register(sm)
		targets = append(targets, notify.Target{Platform: sm.Platform(), ChannelID: cfg.Slack.AlertChannel})
	}
	log.Info().Strs("platforms", messengers.Platforms()).Msg("alert delivery configured")
	alerter := notify.New(messengers, targets...)

	monitor := health.NewMonitor(
		client,
		health.NewKVStore(pubsub, redisstore.HealthStateKey),
		alerter,
		audit,
		pubsub,
		health.Config{
			Interval:  cfg.Health.Interval,
			Timeout:   cfg.Health.Timeout,
			Threshold: cfg.Health.FailureThreshold,
			Provider:  cfg.QTSP.Provider,
		},
	)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Scheduler.Enabled {
		var prober scheduler.Prober
		healthInterval := time.Duration(0)
		if cfg.Health.Enabled {
			prober = monitor
			healthInterval = cfg.Health.Interval
		}
		sched := scheduler.New(store.Companies(), builder, pipeline, prober, scheduler.Config{
			DailyInterval:      cfg.Scheduler.DailyInterval,
			RetryInterval:      cfg.Scheduler.RetryInterval,
			CheckInterval:      cfg.Scheduler.CheckInterval,
			HealthInterval:     healthInterval,
			WindowStartHour:    cfg.Scheduler.WindowStartHour,
			WindowEndHour:      cfg.Scheduler.WindowEndHour,
			CompanyConcurrency: cfg.Scheduler.CompanyConcurrency,
		})
		go sched.Run(ctx)
	}

	srv := server.New(ctx, cfg, server.Deps{
		Roots:     builder,
		Notarizer: pipeline,
		Exporter:  exporter,
		Monitor:   monitor,
		Audit:     audit,
		PubSub:    pubsub,
	})

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
