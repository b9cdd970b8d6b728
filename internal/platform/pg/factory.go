package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// Options содержит настройки фабрики соединений PostgreSQL.
type Options struct {
	// DSN - строка подключения (URL или key=value)
	DSN string
	// ConnectTimeout - таймаут установки одного соединения
	ConnectTimeout time.Duration
	// TxOptions применяются к каждой транзакции, открытой через Begin
	TxOptions pgx.TxOptions
}

// DefaultOptions возвращает настройки по умолчанию для указанного DSN.
func DefaultOptions(dsn string) Options {
	return Options{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
		TxOptions:      pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
}

// Validate проверяет настройки и разбирает DSN.
func (o Options) Validate() error {
	if o.DSN == "" {
		return fmt.Errorf("%w: pg: DSN is required", shared.ErrValidation)
	}
	if o.ConnectTimeout < 0 {
		return fmt.Errorf("%w: pg: connect timeout cannot be negative", shared.ErrValidation)
	}
	if _, err := pgx.ParseConfig(o.DSN); err != nil {
		return fmt.Errorf("%w: pg: invalid DSN: %v", shared.ErrValidation, err)
	}
	return nil
}

// Factory открывает отдельные *pgx.Conn для пула.
// Собственный пул pgx не используется: ёмкостью управляет pool.Pool.
type Factory struct {
	opts   Options
	config *pgx.ConnConfig
	log    *slog.Logger
}

var _ pool.Factory = (*Factory)(nil)

// NewFactory проверяет настройки и создаёт фабрику.
func NewFactory(opts Options, log *slog.Logger) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	config, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: pg: invalid DSN: %v", shared.ErrValidation, err)
	}
	if opts.ConnectTimeout > 0 {
		config.ConnectTimeout = opts.ConnectTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Factory{opts: opts, config: config, log: log.With("engine", "pg")}, nil
}

// Options возвращает настройки фабрики.
func (f *Factory) Options() Options { return f.opts }

// Open устанавливает новое соединение.
func (f *Factory) Open(ctx context.Context) (pool.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, f.config.Copy())
	if err != nil {
		return nil, err
	}
	f.log.Debug("pg connection opened",
		"host", f.config.Host,
		"database", f.config.Database,
		"backend_pid", conn.PgConn().PID(),
	)
	return &Conn{conn: conn, txOptions: f.opts.TxOptions}, nil
}

// Close закрывает соединение, открытое этой фабрикой.
func (f *Factory) Close(ctx context.Context, conn pool.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("pg: unexpected connection type %T", conn)
	}
	return c.Close(ctx)
}
