package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Result содержит результат выполнения запроса.
// Для запросов без выборки Columns и Rows пусты, а RowsAffected заполнен,
// если движок его сообщает.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

// Executor выполняет запрос с именованными параметрами.
type Executor interface {
	Execute(ctx context.Context, query string, params map[string]any) (*Result, error)
}

// Conn - нативное соединение движка, которым управляет пул.
// Ошибки движка возвращаются как есть, пул их не оборачивает и не повторяет.
type Conn interface {
	Executor
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// Pinger реализуется соединениями, которые умеют проверять свою живость.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory открывает и закрывает нативные соединения.
type Factory interface {
	Open(ctx context.Context) (Conn, error)
	Close(ctx context.Context, conn Conn) error
}

// FactoryFunc позволяет использовать функцию открытия как Factory.
// Закрытие делегируется самому соединению.
type FactoryFunc func(ctx context.Context) (Conn, error)

// Open вызывает f(ctx).
func (f FactoryFunc) Open(ctx context.Context) (Conn, error) { return f(ctx) }

// Close закрывает соединение через conn.Close.
func (f FactoryFunc) Close(ctx context.Context, conn Conn) error { return conn.Close(ctx) }

// PooledConn - соединение, выданное пулом.
// Владелец обязан вернуть его ровно один раз через Checkin или Destroy.
type PooledConn struct {
	raw       Conn
	pool      *Pool
	id        uuid.UUID
	createdAt time.Time

	uses atomic.Int64
	// released меняется только под мьютексом пула, читается без него
	released atomic.Bool
}

func newPooledConn(p *Pool, raw Conn) *PooledConn {
	pc := &PooledConn{
		raw:       raw,
		pool:      p,
		id:        uuid.New(),
		createdAt: time.Now(),
	}
	pc.released.Store(true)
	p.stats.opened.Add(1)
	return pc
}

// ID возвращает идентификатор соединения.
func (c *PooledConn) ID() uuid.UUID { return c.id }

// CreatedAt возвращает время открытия соединения.
func (c *PooledConn) CreatedAt() time.Time { return c.createdAt }

// Uses возвращает количество выдач соединения из пула.
func (c *PooledConn) Uses() int64 { return c.uses.Load() }

// Raw возвращает нативное соединение движка.
func (c *PooledConn) Raw() Conn { return c.raw }

// Execute выполняет запрос на соединении.
// После возврата соединения в пул возвращает ErrConnReleased.
func (c *PooledConn) Execute(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if c.released.Load() {
		return nil, ErrConnReleased
	}
	return c.raw.Execute(ctx, query, params)
}

// Ping проверяет соединение, если движок это поддерживает.
func (c *PooledConn) Ping(ctx context.Context) error {
	if c.released.Load() {
		return ErrConnReleased
	}
	if p, ok := c.raw.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

var _ Executor = (*PooledConn)(nil)
