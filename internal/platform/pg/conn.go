package pg

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"graphpool/internal/platform/pool"
)

var (
	_ pool.Conn   = (*Conn)(nil)
	_ pool.Pinger = (*Conn)(nil)
)

// Conn - нативное соединение PostgreSQL для пула.
// Пока открыта транзакция, запросы идут через неё.
type Conn struct {
	conn      *pgx.Conn
	tx        pgx.Tx
	txOptions pgx.TxOptions
}

// Raw возвращает исходное *pgx.Conn.
func (c *Conn) Raw() *pgx.Conn { return c.conn }

// Execute выполняет запрос с именованными параметрами (@name).
// Ключи params допускаются как с префиксом, так и без.
func (c *Conn) Execute(ctx context.Context, query string, params map[string]any) (*pool.Result, error) {
	var args []any
	if len(params) > 0 {
		named := make(pgx.NamedArgs, len(params))
		for name, value := range params {
			named[strings.TrimLeft(name, ":@$")] = value
		}
		args = append(args, named)
	}

	rows, err := c.Querier().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &pool.Result{}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowsAffected = rows.CommandTag().RowsAffected()

	return result, nil
}

// Ping проверяет соединение.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close закрывает соединение. Незавершённая транзакция откатывается сервером.
func (c *Conn) Close(ctx context.Context) error {
	c.tx = nil
	return c.conn.Close(ctx)
}
