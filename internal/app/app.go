// Package app wires the failover services from configuration. Every binary
// builds the same graph; only what it serves differs.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telephony-failover/internal/audit"
	"telephony-failover/internal/config"
	"telephony-failover/internal/failover"
	"telephony-failover/internal/health"
	"telephony-failover/internal/lock"
	"telephony-failover/internal/metrics"
	"telephony-failover/internal/notify"
	"telephony-failover/internal/storage/postgres"
	"telephony-failover/internal/telephony"
	"telephony-failover/internal/voiceplatform"
	"telephony-failover/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	// Registry receives the failover metrics. Nil disables metrics.
	Registry prometheus.Registerer
	// Migrate applies pending schema migrations before opening the pool.
	Migrate bool
}

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Store        *postgres.Store
	Audit        *audit.Service
	Metrics      *metrics.Collector
	Provider     *telephony.TwilioProvider
	Platform     *voiceplatform.Client
	Monitor      *health.Monitor
	Orchestrator *failover.Orchestrator
}

// New connects to Postgres and Redis and builds the service graph.
// Callers must Close the returned App.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if opts.Migrate {
		version, err := postgres.Migrate(cfg.PostgresURL())
		if err != nil {
			return nil, err
		}
		log.Info("schema migrated", "version", version)
	}

	db, err := utils.OpenPostgres(ctx, utils.DefaultPostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db, Redis: rdb}
	if err := a.build(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Options) error {
	cfg := a.Config

	if opts.Registry != nil {
		a.Metrics = metrics.NewCollector(opts.Registry)
	}
	a.Store = postgres.New(a.DB)
	a.Audit = audit.NewService(postgres.NewAuditRepo(a.DB))

	a.Provider = telephony.NewTwilioProvider(telephony.TwilioConfig{
		BaseURL:       cfg.Twilio.APIBaseURL,
		Timeout:       cfg.Twilio.Timeout,
		RatePerSecond: cfg.Twilio.RatePerSecond,
		Burst:         cfg.Twilio.Burst,
	})

	platform, err := voiceplatform.NewClient(voiceplatform.Config{
		BaseURL: cfg.Platform.BaseURL,
		APIKey:  cfg.Platform.APIKey,
		Timeout: cfg.Platform.Timeout,
	}, a.Log)
	if err != nil {
		return err
	}
	a.Platform = platform

	a.Monitor = health.NewMonitor(health.MonitorDeps{
		Store:    a.Store,
		Locker:   lock.NewRedis(a.Redis, "telephony-failover:"),
		Probe:    health.NewProbe(a.Provider, cfg.Monitor.ProbeTimeout, a.Metrics),
		Platform: a.Platform,
		Metrics:  a.Metrics,
		Logger:   a.Log,
	}, health.MonitorConfig{
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		Concurrency:  cfg.Monitor.Concurrency,
		LockTTL:      cfg.Monitor.LockTTL,
	})

	notifier, err := a.notifier()
	if err != nil {
		return err
	}

	a.Orchestrator = failover.New(failover.Deps{
		Store:    a.Store,
		Monitor:  a.Monitor,
		Platform: a.Platform,
		Provider: a.Provider,
		Notifier: notifier,
		Metrics:  a.Metrics,
		Logger:   a.Log,
	}, failover.Config{
		PollInterval:   cfg.Failover.PollInterval,
		WindowDuration: cfg.Failover.Window,
		CallTimeout:    cfg.Failover.CallTimeout,
		VerifyWait:     cfg.Failover.VerifyWait,
		PublicBaseURL:  cfg.App.PublicBaseURL,
	})
	return nil
}

// notifier always logs; it also publishes to Redis when a channel is configured.
func (a *App) notifier() (failover.Notifier, error) {
	out := notify.Multi{notify.NewLogNotifier(a.Log)}
	if ch := a.Config.Notify.RedisChannel; ch != "" {
		rn, err := notify.NewRedisNotifier(a.Redis, ch)
		if err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, nil
}

// Ready reports whether the stores this process depends on answer.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if err := utils.HealthCheck(ctx, a.DB, 2*time.Second); err != nil {
		errs = append(errs, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("redis ping failed: %w", err))
	}
	return errors.Join(errs...)
}

// Close stops approval windows, waits for running executions and closes the pools.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
