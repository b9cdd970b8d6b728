package app

import (
	"context"
	"fmt"
	"log/slog"

	"graphpool/internal/config"
	"graphpool/internal/platform/neo4jdb"
	"graphpool/internal/platform/pg"
	"graphpool/internal/platform/pool"
	"graphpool/internal/platform/sqlite"
	"graphpool/internal/platform/surreal"
	"graphpool/internal/shared"
)

// engine bundles the selected factory with its driver-level shutdown.
type engine struct {
	factory  pool.Factory
	shutdown func(ctx context.Context) error
}

func noShutdown(context.Context) error { return nil }

// openEngine builds the factory for cfg.Engine and applies migrations when configured.
func openEngine(ctx context.Context, cfg config.Config, log *slog.Logger) (*engine, error) {
	switch cfg.Engine {
	case "sqlite":
		return openSQLite(cfg, log)
	case "pg":
		return openPostgres(ctx, cfg, log)
	case "neo4j":
		return openNeo4j(ctx, cfg, log)
	case "surreal":
		return openSurreal(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", shared.ErrValidation, cfg.Engine)
	}
}

func openSQLite(cfg config.Config, log *slog.Logger) (*engine, error) {
	opts := sqlite.DefaultOptions(cfg.SQLite.Path)
	if cfg.SQLite.LockMode != "" {
		opts.TxLockMode = sqlite.TxLockMode(cfg.SQLite.LockMode)
	}
	if cfg.SQLite.BusyTimeout > 0 {
		opts.BusyTimeout = cfg.SQLite.BusyTimeout
	}

	if cfg.Migrations != "" {
		if err := sqlite.ApplyMigrations(cfg.SQLite.Path, cfg.Migrations); err != nil {
			return nil, err
		}
		version, _, err := sqlite.MigrationVersion(cfg.SQLite.Path, cfg.Migrations)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied", "engine", "sqlite", "version", version)
	}

	f, err := sqlite.NewFactory(opts, log)
	if err != nil {
		return nil, err
	}
	return &engine{factory: f, shutdown: noShutdown}, nil
}

// postgresDSN prefers DATABASE_URL and otherwise assembles the PG* parts.
func postgresDSN(cfg config.Config) (string, error) {
	if cfg.Postgres.DSN != "" {
		if _, err := pg.ParseDSN(cfg.Postgres.DSN); err != nil {
			return "", err
		}
		return cfg.Postgres.DSN, nil
	}

	parts := pg.DefaultDSNConfig()
	parts.User = cfg.Postgres.User
	parts.Password = cfg.Postgres.Password
	parts.Database = cfg.Postgres.Database
	if cfg.Postgres.Host != "" {
		parts.Host = cfg.Postgres.Host
	}
	if cfg.Postgres.Port > 0 {
		parts.Port = cfg.Postgres.Port
	}
	if cfg.Postgres.SSLMode != "" {
		parts.SSLMode = cfg.Postgres.SSLMode
	}
	if err := parts.Validate(); err != nil {
		return "", err
	}
	return parts.String(), nil
}

func openPostgres(ctx context.Context, cfg config.Config, log *slog.Logger) (*engine, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("connecting", "engine", "pg", "url", dsn)

	if cfg.Postgres.WaitTimeout > 0 {
		err = pg.WaitForDBSimple(ctx, dsn, cfg.Postgres.WaitTimeout)
	} else {
		err = pg.HealthCheck(ctx, dsn)
	}
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}

	if cfg.Migrations != "" {
		info, err := pg.ApplyMigrations(dsn, cfg.Migrations)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied", "engine", "pg", "version", info.FinalVersion, "applied", info.Applied)
	}

	f, err := pg.NewFactory(pg.DefaultOptions(dsn), log)
	if err != nil {
		return nil, err
	}
	return &engine{factory: f, shutdown: noShutdown}, nil
}

func openNeo4j(ctx context.Context, cfg config.Config, log *slog.Logger) (*engine, error) {
	if cfg.Migrations != "" {
		log.Warn("migrations are not supported for neo4j, skipping", "source", cfg.Migrations)
	}

	opts := neo4jdb.DefaultOptions(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
	opts.Database = cfg.Neo4j.Database
	opts.MaxConnections = cfg.Pool.MaxConns

	f, err := neo4jdb.NewFactory(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	return &engine{factory: f, shutdown: f.Shutdown}, nil
}

func openSurreal(cfg config.Config, log *slog.Logger) (*engine, error) {
	if cfg.Migrations != "" {
		log.Warn("migrations are not supported for surreal, skipping", "source", cfg.Migrations)
	}

	f, err := surreal.NewFactory(surreal.Options{
		Endpoint:  cfg.Surreal.Endpoint,
		Username:  cfg.Surreal.Username,
		Password:  cfg.Surreal.Password,
		Namespace: cfg.Surreal.Namespace,
		Database:  cfg.Surreal.Database,
	}, log)
	if err != nil {
		return nil, err
	}
	return &engine{factory: f, shutdown: noShutdown}, nil
}
