package neo4jdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// Options содержит настройки подключения к Neo4j.
type Options struct {
	// URI - адрес сервера (neo4j://, neo4j+s://, bolt://)
	URI      string
	Username string
	Password string
	// Database - имя базы (пусто = база по умолчанию на сервере)
	Database string
	// AccessMode - "write" или "read"
	AccessMode string
	// MaxConnections - потолок сокетов драйвера, обычно равен MaxConns пула
	MaxConnections int
	// ConnectTimeout - таймаут установки сокета
	ConnectTimeout time.Duration
}

// DefaultOptions возвращает настройки для локального сервера.
func DefaultOptions(uri, username, password string) Options {
	return Options{
		URI:            uri,
		Username:       username,
		Password:       password,
		AccessMode:     "write",
		MaxConnections: 4,
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate проверяет обязательные поля.
func (o Options) Validate() error {
	if o.URI == "" {
		return fmt.Errorf("%w: neo4j: URI is required", shared.ErrValidation)
	}
	if o.AccessMode != "" && o.AccessMode != "read" && o.AccessMode != "write" {
		return fmt.Errorf("%w: neo4j: invalid access mode %q", shared.ErrValidation, o.AccessMode)
	}
	if o.MaxConnections < 0 {
		return fmt.Errorf("%w: neo4j: MaxConnections cannot be negative", shared.ErrValidation)
	}
	return nil
}

func (o Options) sessionConfig() neo4j.SessionConfig {
	mode := neo4j.AccessModeWrite
	if o.AccessMode == "read" {
		mode = neo4j.AccessModeRead
	}
	return neo4j.SessionConfig{AccessMode: mode, DatabaseName: o.Database}
}

// Factory открывает сессии Neo4j поверх одного драйвера.
// Каждое соединение пула - отдельная сессия; драйвер держит сокеты сам.
type Factory struct {
	opts   Options
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

var _ pool.Factory = (*Factory)(nil)

// NewFactory создаёт драйвер и проверяет доступность сервера.
func NewFactory(ctx context.Context, opts Options, log *slog.Logger) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	driver, err := neo4j.NewDriverWithContext(
		opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(cfg *neo4j.Config) {
			if opts.MaxConnections > 0 {
				cfg.MaxConnectionPoolSize = opts.MaxConnections
			}
			if opts.ConnectTimeout > 0 {
				cfg.SocketConnectTimeout = opts.ConnectTimeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return &Factory{opts: opts, driver: driver, log: log.With("engine", "neo4j")}, nil
}

// Options возвращает настройки фабрики.
func (f *Factory) Options() Options { return f.opts }

// Open открывает новую сессию.
func (f *Factory) Open(ctx context.Context) (pool.Conn, error) {
	session := f.driver.NewSession(ctx, f.opts.sessionConfig())
	f.log.Debug("neo4j session opened", "database", f.opts.Database, "access_mode", f.opts.AccessMode)
	return &Conn{session: session}, nil
}

// Close закрывает сессию, открытую этой фабрикой.
func (f *Factory) Close(ctx context.Context, conn pool.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("neo4j: unexpected connection type %T", conn)
	}
	return c.Close(ctx)
}

// Shutdown закрывает драйвер. Вызывается после Drain пула.
func (f *Factory) Shutdown(ctx context.Context) error {
	return f.driver.Close(ctx)
}
