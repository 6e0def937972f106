package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/cmd/common"
	"github.com/ducminhle1904/trading-risk-engine/internal/config"
	"github.com/ducminhle1904/trading-risk-engine/internal/engine"
	"github.com/ducminhle1904/trading-risk-engine/internal/exit"
	"github.com/ducminhle1904/trading-risk-engine/internal/journal"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/trading-risk-engine/internal/notifications"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio/storage"
	"github.com/ducminhle1904/trading-risk-engine/internal/recovery"
	"github.com/ducminhle1904/trading-risk-engine/internal/safety"
)

// app owns the engine and every resource it was wired with
type app struct {
	cfg       *config.Config
	engine    *engine.Engine
	portfolio *portfolio.DefaultPortfolioManager
	store     *storage.FileStorage
	journal   journal.Journal
	metrics   *monitoring.Metrics
	health    *monitoring.HealthChecker
	breakers  *safety.CircuitBreakerManager
	notifier  notifications.Notifier
	recovery  *recovery.RecoveryHandler

	cron   *cron.Cron
	server *http.Server
	locked bool
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		metrics:  monitoring.NewMetrics(),
		health:   monitoring.NewHealthChecker(cfg.Monitoring.MaxTickAge),
		breakers: safety.NewCircuitBreakerManager(cfg.BreakerConfig()),
		journal:  journal.NoopJournal{},
		notifier: cfg.Notifier(),
		recovery: recovery.NewRecoveryHandler(recovery.DefaultRetryConfig()),
	}
	a.health.SetOpenCircuitsFunc(a.breakers.GetOpenCircuits)
	a.breakers.SetStateChangeCallback(a.onBreakerChange)

	options := engine.Options{
		MinEntryScore:     cfg.Engine.MinEntryScore,
		MaxPriceChangePct: decimal.NewFromFloat(cfg.Engine.MaxPriceChangePct),
		Metrics:           a.metrics,
		Health:            a.health,
		Breakers:          a.breakers,
	}

	if cfg.Storage.StateFile != "" {
		store, err := storage.NewFileStorage(cfg.Storage.StateFile)
		if err != nil {
			return nil, err
		}
		if err := store.Lock(); err != nil {
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		a.store = store
		a.locked = true
		options.Storage = store
	}

	if cfg.Storage.JournalPath != "" {
		j, err := journal.NewSQLiteJournal(cfg.Storage.JournalPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = j
	}
	options.Journal = a.journal

	portfolioConfig := cfg.PortfolioConfig()
	a.portfolio = portfolio.NewPortfolioManager(&portfolioConfig)
	a.engine = engine.New(
		a.portfolio,
		exit.NewStrategy(cfg.ExitConfig()),
		options,
	)
	return a, nil
}

func (a *app) onBreakerChange(name string, from, to safety.CircuitBreakerState) {
	ctx := context.Background()
	logger.Warn(ctx, "Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())

	switch to {
	case safety.StateOpen:
		a.notify(ctx, notifications.LevelError, fmt.Sprintf("Circuit %s opened, %s writes are paused", name, name))
	case safety.StateClosed:
		a.notify(ctx, notifications.LevelInfo, fmt.Sprintf("Circuit %s closed again", name))
	}
}

func (a *app) notify(ctx context.Context, level, message string) {
	if err := a.notifier.SendAlert(ctx, level, message); err != nil {
		logger.ErrorWithErr(ctx, "Send notification failed", err, "level", level)
	}
}

// restore backs up an existing state file when configured, then loads it
func (a *app) restore(ctx context.Context) error {
	if a.store != nil && a.cfg.Storage.BackupOnLoad && common.FileExists(a.store.Path()) {
		backup, err := a.store.BackupState()
		if err != nil {
			return fmt.Errorf("backup state: %w", err)
		}
		logger.Info(ctx, "State backed up", "path", backup)
	}
	return a.engine.Load(ctx)
}

// save writes the engine state, retrying storage failures with backoff
func (a *app) save(ctx context.Context) error {
	return a.recovery.ExecuteWithRecovery(ctx, "engine", "save", func() error {
		return a.engine.Save(ctx)
	})
}

// startScheduler registers the periodic state save
func (a *app) startScheduler(ctx context.Context) error {
	if a.store == nil || a.cfg.Storage.SaveSchedule == "" {
		return nil
	}

	a.cron = cron.New(cron.WithSeconds())
	if _, err := a.cron.AddFunc(a.cfg.Storage.SaveSchedule, func() {
		if err := a.save(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Scheduled save failed", err)
		}
	}); err != nil {
		return fmt.Errorf("register save job: %w", err)
	}

	a.cron.Start()
	logger.Info(ctx, "Save scheduler started", "schedule", a.cfg.Storage.SaveSchedule)
	return nil
}

// startServer exposes /metrics and /health
func (a *app) startServer(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/health", a.health)

	a.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Metrics server stopped", err, "addr", addr)
		}
	}()
	logger.Info(ctx, "Metrics server listening", "addr", addr)
}

// Close stops background work and releases the state lock and the journal
func (a *app) Close() {
	ctx := context.Background()

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr(ctx, "Metrics server shutdown failed", err)
		}
		cancel()
	}
	if err := a.journal.Close(); err != nil {
		logger.ErrorWithErr(ctx, "Journal close failed", err)
	}
	if a.locked {
		if err := a.store.Unlock(); err != nil {
			logger.ErrorWithErr(ctx, "State unlock failed", err)
		}
		a.locked = false
	}
}
