package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"graphpool/internal/platform/logger"
	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// ErrOpenTransaction is returned when work outside WithTransaction leaves a
// transaction open. The connection is destroyed instead of checked in.
var ErrOpenTransaction = fmt.Errorf("%w: transaction left open on a pooled connection", shared.ErrValidation)

// txState is implemented by engine connections that know whether a
// transaction is open on them.
type txState interface {
	InTx() bool
}

// ConnFunc is work that runs on a checked-out connection.
type ConnFunc func(ctx context.Context, conn *pool.PooledConn) error

// Options configures a Container.
type Options struct {
	Pool pool.Options
	// RollbackTimeout bounds the rollback issued after a failed transaction
	RollbackTimeout time.Duration
	// OnClose runs once after the pool has drained, e.g. to shut down a driver
	OnClose func(ctx context.Context) error
	Logger  *slog.Logger
}

// DefaultOptions returns pool defaults and the default rollback timeout.
func DefaultOptions() Options {
	return Options{
		Pool:            pool.DefaultOptions(),
		RollbackTimeout: pool.DefaultRollbackTimeout,
	}
}

// Container is the composition root for database access.
type Container struct {
	pool    *pool.Pool
	tx      *pool.TxRunner
	log     *slog.Logger
	onClose func(ctx context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// New opens the pool and wires the transaction runner.
func New(ctx context.Context, factory pool.Factory, opts Options) (*Container, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Pool.Logger == nil {
		opts.Pool.Logger = log
	}

	p, err := pool.New(ctx, factory, opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	runner := pool.NewTxRunner(p)
	if opts.RollbackTimeout > 0 {
		runner.RollbackTimeout = opts.RollbackTimeout
	}

	return &Container{
		pool:    p,
		tx:      runner,
		log:     log.With("component", "graphdb"),
		onClose: opts.OnClose,
	}, nil
}

// Pool exposes the underlying pool.
func (c *Container) Pool() *pool.Pool { return c.pool }

// WithConnection checks out a connection, runs fn and checks the connection
// back in, even if fn panics. Inside WithTransaction the transaction's
// connection is reused instead of checking out a second one.
//
// A connection that fn leaves inside a transaction is destroyed, and
// ErrOpenTransaction is returned unless fn failed on its own.
func (c *Container) WithConnection(ctx context.Context, fn ConnFunc) (err error) {
	if conn, ok := pool.ConnFromContext(ctx); ok {
		return fn(ctx, conn)
	}

	conn, err := c.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx, ok := conn.Raw().(txState); ok && tx.InTx() {
			c.log.Warn("connection left in a transaction, destroying", "conn_id", conn.ID())
			if derr := c.pool.Destroy(conn); derr != nil {
				c.log.Warn("failed to destroy connection", "conn_id", conn.ID(), logger.Err(derr))
			}
			if err == nil {
				err = ErrOpenTransaction
			}
			return
		}
		if cerr := c.pool.Checkin(conn); cerr != nil {
			c.log.Warn("failed to check in connection", "conn_id", conn.ID(), logger.Err(cerr))
		}
	}()

	return fn(ctx, conn)
}

// WithTransaction runs fn inside a transaction. See pool.TxRunner.WithinTx.
func (c *Container) WithTransaction(ctx context.Context, fn ConnFunc) error {
	return c.tx.WithinTx(ctx, pool.TxFunc(fn))
}

// WithConnectionResult is WithConnection for work that produces a value.
func WithConnectionResult[T any](ctx context.Context, c *Container, fn func(ctx context.Context, conn *pool.PooledConn) (T, error)) (T, error) {
	var out T
	err := c.WithConnection(ctx, func(ctx context.Context, conn *pool.PooledConn) error {
		var err error
		out, err = fn(ctx, conn)
		return err
	})
	return out, err
}

// WithTransactionResult is WithTransaction for work that produces a value.
// The value is returned only if the transaction committed.
func WithTransactionResult[T any](ctx context.Context, c *Container, fn func(ctx context.Context, conn *pool.PooledConn) (T, error)) (T, error) {
	var out T
	err := c.WithTransaction(ctx, func(ctx context.Context, conn *pool.PooledConn) error {
		var err error
		out, err = fn(ctx, conn)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Exec runs a single query on a pooled connection.
func (c *Container) Exec(ctx context.Context, query string, params map[string]any) (*pool.Result, error) {
	return WithConnectionResult(ctx, c, func(ctx context.Context, conn *pool.PooledConn) (*pool.Result, error) {
		return conn.Execute(ctx, query, params)
	})
}

// Statement is one query of a batch executed by ExecTx.
type Statement struct {
	Query  string         `json:"query" binding:"required"`
	Params map[string]any `json:"params"`
}

// ExecTx runs statements in order inside one transaction and returns
// their results. The first failing statement rolls the whole batch back.
func (c *Container) ExecTx(ctx context.Context, statements []Statement) ([]*pool.Result, error) {
	return WithTransactionResult(ctx, c, func(ctx context.Context, conn *pool.PooledConn) ([]*pool.Result, error) {
		results := make([]*pool.Result, 0, len(statements))
		for i, st := range statements {
			res, err := conn.Execute(ctx, st.Query, st.Params)
			if err != nil {
				return nil, &StatementError{Index: i, Err: err}
			}
			results = append(results, res)
		}
		return results, nil
	})
}

// StatementError reports which statement of a batch failed.
type StatementError struct {
	Index int
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Health checks out a connection, pings it and returns it. A pool that is
// draining or closed is reported as unhealthy without blocking.
func (c *Container) Health(ctx context.Context) error {
	if state := c.pool.State(); state != pool.StateOpen {
		return fmt.Errorf("%w: pool is %s", pool.ErrPoolClosed, state)
	}
	return pool.HealthCheck(ctx, c.pool)
}

// Stats returns a snapshot of pool statistics.
func (c *Container) Stats() pool.Stats { return c.pool.Stats() }

// Close drains the pool and waits until every connection is closed or ctx
// is done. It is safe to call Close more than once; OnClose runs once,
// after the pool has fully drained.
func (c *Container) Close(ctx context.Context) error {
	drainErr := c.pool.Drain(ctx)

	select {
	case <-c.pool.Drained():
	case <-ctx.Done():
		stats := c.pool.Stats()
		c.log.Warn("close interrupted before pool drained", "in_use", stats.InUse, "error", ctx.Err())
		return errors.Join(drainErr, fmt.Errorf("wait for drain: %w", ctx.Err()))
	}

	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.closeErr = c.onClose(ctx)
		}
		c.log.Info("graph database closed")
	})
	return errors.Join(drainErr, c.closeErr)
}
