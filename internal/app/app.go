package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"graphpool/internal/adapter/httpapi"
	"graphpool/internal/adapter/scheduler"
	"graphpool/internal/config"
	"graphpool/internal/graphdb"
	"graphpool/internal/platform/logger"
	"graphpool/internal/shared"
	"graphpool/pkg/retry"
)

// App wires application components.
type App struct {
	cfg  config.Config
	log  *slog.Logger
	logs *logger.Logger
}

// New builds the logger for cfg.
func New(cfg config.Config) *App {
	logs := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAgeDays:   cfg.Log.MaxAgeDays,
		App:          "graphpool",
	})
	return &App{cfg: cfg, log: logs.Logger, logs: logs}
}

// Close flushes the log file.
func (a *App) Close() error { return a.logs.Close() }

// Migrate applies migrations for the configured engine without starting the pool.
func (a *App) Migrate(ctx context.Context) error {
	if a.cfg.Migrations == "" {
		return fmt.Errorf("%w: migrations source is not configured", shared.ErrValidation)
	}
	switch a.cfg.Engine {
	case "neo4j", "surreal":
		return fmt.Errorf("%w: migrations are not supported for engine %s", shared.ErrValidation, a.cfg.Engine)
	}
	eng, err := openEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	return eng.shutdown(ctx)
}

// Serve opens the pool, serves the admin API until ctx is done and then
// drains everything within ShutdownTimeout.
func (a *App) Serve(ctx context.Context) error {
	a.log.Info("starting", "engine", a.cfg.Engine, "max_conns", a.cfg.Pool.MaxConns)

	eng, err := openEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}

	rec, err := newRecorder(ctx, a.cfg, a.log)
	if err != nil {
		_ = eng.shutdown(context.Background())
		return err
	}
	defer rec.close()

	container, err := graphdb.New(ctx, eng.factory, a.containerOptions(eng, rec))
	if err != nil {
		_ = eng.shutdown(context.Background())
		return err
	}

	sched := scheduler.New(ctx, scheduler.Config{Logger: a.log})
	probe := scheduler.NewHealthProbe(sched, container, scheduler.ProbeOptions{
		Schedule: a.cfg.Probe.Schedule,
		Timeout:  a.cfg.Probe.Timeout,
	})
	if _, err := probe.Register(); err != nil {
		_ = container.Close(context.Background())
		return err
	}
	sched.Start()

	srv := httpapi.New(container, httpapi.Options{
		Addr:           a.cfg.HTTP.Addr,
		Env:            a.cfg.Env,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		RateLimit: httpapi.RateLimitOptions{
			RPS:   a.cfg.HTTP.RateRPS,
			Burst: a.cfg.HTTP.RateBurst,
		},
		Tokens: a.cfg.HTTP.Tokens,
		Events: rec.totals,
		Logger: a.log,
	})

	serveErr := srv.Run(ctx)
	if serveErr != nil {
		a.log.Error("admin api", logger.Err(serveErr))
	}

	a.log.Info("shutting down", "timeout", a.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(
		serveErr,
		sched.Stop(shutdownCtx),
		container.Close(shutdownCtx),
	)
}

func (a *App) containerOptions(eng *engine, rec *recorder) graphdb.Options {
	opts := graphdb.DefaultOptions()
	opts.Pool.MaxConns = a.cfg.Pool.MaxConns
	opts.Pool.MinConns = a.cfg.Pool.MinConns
	opts.Pool.AcquireTimeout = a.cfg.Pool.AcquireTimeout
	opts.Pool.Recorder = rec.recorder
	if a.cfg.Pool.OpenRetries > 0 {
		openRetry := retry.DefaultConfig()
		openRetry.MaxAttempts = a.cfg.Pool.OpenRetries + 1
		opts.Pool.OpenRetry = &openRetry
	}
	if a.cfg.Pool.RollbackTimeout > 0 {
		opts.RollbackTimeout = a.cfg.Pool.RollbackTimeout
	}
	opts.OnClose = eng.shutdown
	opts.Logger = a.log
	return opts
}
