package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier объединяет методы выполнения запросов, общие для соединения и транзакции.
// Позволяет работать с одним интерфейсом независимо от того,
// выполняется ли запрос в транзакции.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Убедимся на этапе компиляции, что типы реализуют интерфейс
var (
	_ Querier = (*pgx.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// errTxActive возвращается при повторном Begin на том же соединении
var errTxActive = errors.New("pg: transaction already active on connection")

// Querier возвращает активную транзакцию, если она есть, иначе соединение.
func (c *Conn) Querier() Querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// InTx сообщает, открыта ли транзакция на соединении: через Begin или
// запросом BEGIN, выполненным напрямую (статус сервера не 'I').
func (c *Conn) InTx() bool {
	return c.tx != nil || c.conn.PgConn().TxStatus() != 'I'
}

// Begin открывает транзакцию с опциями фабрики.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errTxActive
	}
	tx, err := c.conn.BeginTx(ctx, c.txOptions)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit фиксирует транзакцию. После неудачного коммита pgx закрывает
// транзакцию сам, и последующий Rollback ничего не делает.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return pgx.ErrTxClosed
	}
	err := c.tx.Commit(ctx)
	if err == nil {
		c.tx = nil
	}
	return err
}

// Rollback откатывает транзакцию. Откат уже закрытой транзакции не ошибка.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		err = nil
	}
	if err == nil {
		c.tx = nil
	}
	return err
}
