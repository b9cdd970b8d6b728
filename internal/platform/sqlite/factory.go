package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"graphpool/internal/platform/pool"
)

// Factory открывает нативные соединения SQLite для пула.
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
	return &Factory{opts: opts, log: log.With("engine", "sqlite")}, nil
}

// Options возвращает настройки фабрики.
func (f *Factory) Options() Options { return f.opts }

// Open открывает новое соединение.
func (f *Factory) Open(ctx context.Context) (pool.Conn, error) {
	conn, err := newConn(ctx, f.opts)
	if err != nil {
		return nil, err
	}
	f.log.Debug("sqlite connection opened", "path", f.opts.Path, "lock_mode", string(conn.lockMode))
	return conn, nil
}

// Close закрывает соединение, открытое этой фабрикой.
func (f *Factory) Close(ctx context.Context, conn pool.Conn) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("sqlite: unexpected connection type %T", conn)
	}
	return c.Close(ctx)
}
