package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/LifeMoments/internal/ai"
	"github.com/hray3182/LifeMoments/internal/api"
	"github.com/hray3182/LifeMoments/internal/config"
	"github.com/hray3182/LifeMoments/internal/database"
	"github.com/hray3182/LifeMoments/internal/dispatch"
	"github.com/hray3182/LifeMoments/internal/logging"
	"github.com/hray3182/LifeMoments/internal/mailer"
	"github.com/hray3182/LifeMoments/internal/repository"
	"github.com/hray3182/LifeMoments/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type mode int

const (
	modeMigrate mode = iota
	modeDispatch
	modeServe
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	registry *prometheus.Registry

	reminders  *repository.ReminderRepository
	recipients *repository.RecipientRepository
	accounts   *repository.AccountRepository
	aiClient   *ai.Client
	dispatcher *dispatch.Dispatcher
	location   *time.Location
}

func newApp(ctx context.Context, path string, m mode) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	switch m {
	case modeServe:
		err = cfg.ValidateServer()
	case modeDispatch:
		err = cfg.ValidateDispatch()
	}
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if m == modeServe && cfg.Scheduler.Enabled {
		if err := scheduler.ValidateSpec(cfg.Scheduler.Cron); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.Database.URI, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		registry:   prometheus.NewRegistry(),
		reminders:  repository.NewReminderRepository(db),
		recipients: repository.NewRecipientRepository(db),
		accounts:   repository.NewAccountRepository(db),
		location:   loc,
	}
	if m == modeMigrate {
		return a, nil
	}

	if cfg.AI.APIKey != "" {
		a.aiClient = ai.New(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
		logger.Info("AI client initialized", zap.String("model", cfg.AI.Model))
	} else {
		logger.Info("AI client not configured, emails go out without wishes")
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := dispatch.Dependencies{
		Reminders:  a.reminders,
		Recipients: a.recipients,
		Accounts:   a.accounts,
		Mailer: mailer.NewBrevo(mailer.BrevoConfig{
			APIKey:        cfg.Brevo.APIKey,
			SenderEmail:   cfg.Brevo.SenderEmail,
			SenderName:    cfg.Brevo.SenderName,
			BaseURL:       cfg.Brevo.BaseURL,
			RatePerSecond: cfg.Mailer.RatePerSecond,
		}),
		Metrics: dispatch.NewMetrics(a.registry),
	}
	// A nil *ai.Client must not become a non-nil interface.
	if a.aiClient != nil {
		deps.Wishes = a.aiClient
	}
	a.dispatcher = dispatch.New(deps, dispatch.Config{
		BatchSize:       cfg.Dispatch.BatchSize,
		CallTimeout:     cfg.Dispatch.CallTimeout,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		Location:        loc,
		WriteAttempts:   cfg.Dispatch.WriteAttempts,
		RetryBackoff:    cfg.Dispatch.RetryBackoff,
		StaleClaimAfter: cfg.Dispatch.StaleClaimAfter,
	}, logger)

	return a, nil
}

// Serve runs the HTTP API and the scheduler until ctx is done or either fails.
func (a *app) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sched *scheduler.Scheduler
	if a.cfg.Scheduler.Enabled {
		sched = scheduler.New(a.dispatcher, a.cfg.Scheduler.Cron, a.logger)
	} else {
		a.logger.Info("in-process scheduler disabled, dispatch via POST /internal/dispatch or the dispatch command")
	}

	deps := api.Dependencies{
		Reminders:  a.reminders,
		Recipients: a.recipients,
		Accounts:   a.accounts,
		Dispatcher: a.dispatcher,
		Gatherer:   a.registry,
	}
	if a.aiClient != nil {
		deps.Wishes = a.aiClient
	}
	if sched != nil {
		deps.OnChange = sched.Notify
	}
	server := api.New(api.Config{
		JWTSecret:      a.cfg.Auth.JWTSecret,
		TriggerToken:   a.cfg.Dispatch.TriggerToken,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Location:       a.location,
	}, deps, a.logger)

	errCh := make(chan error, 2)
	running := 1
	go func() {
		defer exitOnPanic(a.logger, "http", errCh)
		errCh <- server.Run(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout)
	}()
	if sched != nil {
		running++
		go func() {
			defer exitOnPanic(a.logger, "scheduler", errCh)
			errCh <- ignoreCanceled(sched.Start(ctx))
		}()
	}

	var firstErr error
	for range running {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		// Either component stopping takes the other down with it.
		cancel()
	}
	a.logger.Info("shutdown complete")
	return firstErr
}

func (a *app) Close() {
	a.db.Close()
	_ = a.logger.Sync()
}
