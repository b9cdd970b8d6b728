package pool

import (
	"errors"
	"fmt"
	"time"

	"graphpool/internal/shared"
)

// Ошибки пула. Каждая привязана к классу из shared, чтобы транспортный слой
// мог выбрать код ответа через shared.KindOf.
var (
	// ErrInvalidOptions - недопустимые параметры конструктора
	ErrInvalidOptions = fmt.Errorf("%w: pool: invalid options", shared.ErrValidation)

	// ErrConnectionTimeout - Checkout не дождался соединения за AcquireTimeout
	ErrConnectionTimeout = fmt.Errorf("%w: pool: connection timeout", shared.ErrTimeout)

	// ErrCanceled - ожидание прервано контекстом вызывающего
	ErrCanceled = errors.New("pool: checkout canceled")

	// ErrPoolExhausted - ожидающий запрос отклонён из-за Drain
	ErrPoolExhausted = fmt.Errorf("%w: pool: exhausted", shared.ErrUnavailable)

	// ErrPoolClosed - пул закрыт или закрывается
	ErrPoolClosed = fmt.Errorf("%w: pool: closed", shared.ErrUnavailable)

	// ErrConnection - фабрика не смогла открыть соединение
	ErrConnection = fmt.Errorf("%w: pool: connection error", shared.ErrDependencyFailure)

	// ErrConnReleased - соединение уже возвращено в пул
	ErrConnReleased = fmt.Errorf("%w: pool: connection already released", shared.ErrInvariantViolated)

	// ErrForeignConn - соединение выдано другим пулом
	ErrForeignConn = fmt.Errorf("%w: pool: connection belongs to another pool", shared.ErrInvariantViolated)

	// ErrNestedTx - попытка открыть транзакцию внутри транзакции
	ErrNestedTx = fmt.Errorf("%w: pool: nested transactions are not supported", shared.ErrConflict)

	// ErrTransactionFailed - коммит не удался, транзакция откачена
	ErrTransactionFailed = fmt.Errorf("%w: pool: transaction failed", shared.ErrDependencyFailure)
)

// TimeoutError возвращается Checkout по истечении AcquireTimeout.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool: connection timeout after %s", e.Duration)
}

// Unwrap позволяет проверять errors.Is(err, ErrConnectionTimeout).
func (e *TimeoutError) Unwrap() error { return ErrConnectionTimeout }

// TxError возвращается, когда коммит не удался.
// RollbackErr заполнен, если не удался и последующий откат; в цепочку
// Unwrap он не входит.
type TxError struct {
	Cause       error
	RollbackErr error
}

func (e *TxError) Error() string {
	msg := "pool: transaction failed: " + e.Cause.Error()
	if e.RollbackErr != nil {
		msg += " (rollback: " + e.RollbackErr.Error() + ")"
	}
	return msg
}

func (e *TxError) Unwrap() []error { return []error{ErrTransactionFailed, e.Cause} }

// RollbackError сохраняет основную ошибку работы и прикладывает ошибку отката.
// Unwrap возвращает только основную ошибку.
type RollbackError struct {
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return e.Err.Error() + " (rollback failed: " + e.RollbackErr.Error() + ")"
}

func (e *RollbackError) Unwrap() error { return e.Err }

func canceledError(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

func connectionError(cause error) error {
	return fmt.Errorf("%w: %w", ErrConnection, cause)
}
