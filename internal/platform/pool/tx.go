package pool

import (
	"context"
	"log/slog"
	"time"
)

// txKey используется как ключ для хранения соединения транзакции в context.Context
type txKey struct{}

// TxState - стадия выполнения одной транзакции.
type TxState int

const (
	TxAcquiring TxState = iota
	TxActive
	TxCommitting
	TxCommitted
	TxRollingBack
	TxRolledBack
	TxReleased
)

// String возвращает строковое представление стадии.
func (s TxState) String() string {
	switch s {
	case TxAcquiring:
		return "acquiring"
	case TxActive:
		return "active"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxRollingBack:
		return "rolling_back"
	case TxRolledBack:
		return "rolled_back"
	case TxReleased:
		return "released"
	default:
		return "unknown"
	}
}

// TxFunc - работа, выполняемая внутри транзакции.
type TxFunc func(ctx context.Context, conn *PooledConn) error

// DefaultRollbackTimeout ограничивает откат, который выполняется на
// контексте без отмены.
const DefaultRollbackTimeout = 5 * time.Second

// TxRunner выполняет функцию внутри транзакции на соединении из пула.
// Соединение возвращается в пул ровно один раз на любом пути выхода.
type TxRunner struct {
	Pool            *Pool
	RollbackTimeout time.Duration
	// OnTransition вызывается при каждой смене стадии (опционально)
	OnTransition func(TxState)
}

// NewTxRunner создаёт TxRunner для указанного пула.
func NewTxRunner(p *Pool) *TxRunner {
	return &TxRunner{Pool: p, RollbackTimeout: DefaultRollbackTimeout}
}

// ConnFromContext извлекает соединение активной транзакции из контекста.
func ConnFromContext(ctx context.Context) (*PooledConn, bool) {
	pc, ok := ctx.Value(txKey{}).(*PooledConn)
	return pc, ok
}

// WithinTx выполняет fn внутри транзакции.
//
// Если fn вернула nil и контекст не отменён, транзакция коммитится;
// ошибка коммита приводит к откату и *TxError. Если fn вернула ошибку,
// паниковала или контекст отменён, выполняется откат и возвращается
// исходная ошибка (при неудачном откате - *RollbackError). Паника
// пробрасывается дальше после возврата соединения.
func (r *TxRunner) WithinTx(ctx context.Context, fn TxFunc) error {
	if _, ok := ConnFromContext(ctx); ok {
		return ErrNestedTx
	}

	r.transition(TxAcquiring)
	pc, err := r.Pool.Checkout(ctx)
	if err != nil {
		return err
	}

	log := r.Pool.log.With("conn_id", pc.id)

	if err := pc.raw.Begin(ctx); err != nil {
		if derr := r.Pool.Destroy(pc); derr != nil {
			log.Warn("failed to destroy connection after begin error", "error", derr)
		}
		r.transition(TxReleased)
		return err
	}
	r.transition(TxActive)

	released := false
	release := func(destroy bool) {
		if released {
			return
		}
		released = true

		var err error
		if destroy {
			err = r.Pool.Destroy(pc)
		} else {
			err = r.Pool.Checkin(pc)
		}
		if err != nil {
			log.Warn("failed to release transaction connection", "destroy", destroy, "error", err)
		}
		r.transition(TxReleased)
	}

	defer func() {
		if rec := recover(); rec != nil {
			rbErr := r.rollback(ctx, pc, log)
			release(rbErr != nil)
			panic(rec)
		}
	}()

	workErr := fn(context.WithValue(ctx, txKey{}, pc), pc)
	if workErr == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			workErr = canceledError(ctxErr)
		}
	}

	if workErr != nil {
		rbErr := r.rollback(ctx, pc, log)
		release(rbErr != nil)
		if rbErr != nil {
			return &RollbackError{Err: workErr, RollbackErr: rbErr}
		}
		return workErr
	}

	r.transition(TxCommitting)
	if err := pc.raw.Commit(ctx); err != nil {
		log.Warn("commit failed, rolling back", "error", err)
		rbErr := r.rollback(ctx, pc, log)
		release(rbErr != nil)
		return &TxError{Cause: err, RollbackErr: rbErr}
	}
	r.transition(TxCommitted)

	release(false)
	return nil
}

// rollback откатывает транзакцию на контексте без отмены с ограниченным временем.
func (r *TxRunner) rollback(ctx context.Context, pc *PooledConn, log *slog.Logger) error {
	r.transition(TxRollingBack)

	timeout := r.RollbackTimeout
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := pc.raw.Rollback(rbCtx); err != nil {
		log.Error("rollback failed", "error", err)
		return err
	}
	r.transition(TxRolledBack)
	return nil
}

func (r *TxRunner) transition(s TxState) {
	if r.OnTransition != nil {
		r.OnTransition(s)
	}
}
