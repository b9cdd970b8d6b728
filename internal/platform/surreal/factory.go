package surreal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/surrealdb/surrealdb.go"

	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// Options содержит настройки подключения к SurrealDB.
type Options struct {
	// Endpoint - адрес сервера, например ws://localhost:8000
	Endpoint  string
	Username  string
	Password  string
	Namespace string
	Database  string
}

// Validate проверяет обязательные поля.
func (o Options) Validate() error {
	switch {
	case o.Endpoint == "":
		return fmt.Errorf("%w: surreal: endpoint is required", shared.ErrValidation)
	case o.Namespace == "":
		return fmt.Errorf("%w: surreal: namespace is required", shared.ErrValidation)
	case o.Database == "":
		return fmt.Errorf("%w: surreal: database is required", shared.ErrValidation)
	}
	return nil
}

// Factory открывает отдельное соединение SurrealDB на каждый слот пула.
type Factory struct {
	opts Options
	log  *slog.Logger
}

var _ pool.Factory = (*Factory)(nil)

// NewFactory проверяет настройки и создаёт фабрику.
func NewFactory(opts Options, log *slog.Logger) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Factory{opts: opts, log: log.With("engine", "surreal")}, nil
}

// Options возвращает настройки фабрики.
func (f *Factory) Options() Options { return f.opts }

// Open подключается, выполняет вход и выбирает namespace/database.
func (f *Factory) Open(ctx context.Context) (pool.Conn, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, f.opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("surreal: connect: %w", err)
	}

	if f.opts.Username != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: f.opts.Username,
			Password: f.opts.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("surreal: signin: %w", err)
		}
	}

	if err := db.Use(ctx, f.opts.Namespace, f.opts.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("surreal: use %s/%s: %w", f.opts.Namespace, f.opts.Database, err)
	}

	f.log.Debug("surreal connection opened", "namespace", f.opts.Namespace, "database", f.opts.Database)
	return newConn(db), nil
}

// Close закрывает соединение, открытое этой фабрикой.
func (f *Factory) Close(ctx context.Context, conn pool.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("surreal: unexpected connection type %T", conn)
	}
	return c.Close(ctx)
}
