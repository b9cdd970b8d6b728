package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"graphpool/internal/platform/pool"
)

// Querier объединяет методы выполнения запросов, общие для *sql.Conn и *sql.DB.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Убедимся на этапе компиляции, что типы реализуют интерфейсы
var (
	_ Querier     = (*sql.DB)(nil)
	_ Querier     = (*sql.Conn)(nil)
	_ pool.Conn   = (*Conn)(nil)
	_ pool.Pinger = (*Conn)(nil)
)

// errTxActive возвращается при повторном Begin на том же соединении
var errTxActive = errors.New("sqlite: transaction already active on connection")

// Conn - нативное соединение SQLite для пула.
// Транзакции управляются вручную (BEGIN <mode>/COMMIT/ROLLBACK) на одном
// закреплённом *sql.Conn, поэтому режим блокировки соблюдается.
type Conn struct {
	db       *sql.DB
	conn     *sql.Conn
	lockMode TxLockMode
	inTx     bool
}

func newConn(ctx context.Context, opts Options) (*Conn, error) {
	db, err := openDB(ctx, opts)
	if err != nil {
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to pin sqlite connection: %w", err)
	}

	lockMode := opts.TxLockMode
	if lockMode == "" {
		lockMode = TxLockDeferred
	}
	return &Conn{db: db, conn: conn, lockMode: lockMode}, nil
}

// Querier возвращает закреплённое соединение для прямой работы через database/sql.
func (c *Conn) Querier() Querier { return c.conn }

// InTx сообщает, открыта ли транзакция на соединении.
func (c *Conn) InTx() bool { return c.inTx }

// Execute выполняет запрос с именованными параметрами (:name, @name, $name).
// Для выборок (SELECT, WITH, PRAGMA, ... RETURNING) возвращает строки,
// для остальных - RowsAffected.
func (c *Conn) Execute(ctx context.Context, query string, params map[string]any) (*pool.Result, error) {
	args := namedArgs(params)

	if !returnsRows(query) {
		res, err := c.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		c.trackTx(query)
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &pool.Result{RowsAffected: affected}, nil
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Begin открывает транзакцию в настроенном режиме блокировки.
func (c *Conn) Begin(ctx context.Context) error {
	if c.inTx {
		return errTxActive
	}
	if _, err := c.conn.ExecContext(ctx, fmt.Sprintf("BEGIN %s", c.lockMode)); err != nil {
		return err
	}
	c.inTx = true
	return nil
}

// Commit фиксирует транзакцию.
func (c *Conn) Commit(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return err
	}
	c.inTx = false
	return nil
}

// Rollback откатывает транзакцию. Если SQLite уже откатил её сам
// (например, после ошибки в процессе коммита), ошибка не возвращается.
func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, "ROLLBACK")
	if err != nil && strings.Contains(err.Error(), "no transaction is active") {
		err = nil
	}
	if err == nil {
		c.inTx = false
	}
	return err
}

// Ping проверяет соединение.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// Close закрывает соединение и его *sql.DB.
func (c *Conn) Close(context.Context) error {
	return errors.Join(c.conn.Close(), c.db.Close())
}

// namedArgs превращает параметры в sql.Named в детерминированном порядке.
// Префикс (:, @, $) в ключе допускается и отбрасывается.
func namedArgs(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(strings.TrimLeft(name, ":@$"), params[name]))
	}
	return args
}

// trackTx отмечает транзакции, открытые и закрытые запросами через Execute,
// чтобы InTx не расходился с состоянием соединения.
func (c *Conn) trackTx(query string) {
	switch strings.ToUpper(leadingKeyword(query)) {
	case "BEGIN", "SAVEPOINT":
		c.inTx = true
	case "COMMIT", "END":
		c.inTx = false
	case "ROLLBACK":
		// ROLLBACK TO откатывает только до точки сохранения
		if !slices.Contains(strings.Fields(strings.ToUpper(query)), "TO") {
			c.inTx = false
		}
	}
}

// returnsRows определяет по первому ключевому слову, возвращает ли запрос строки.
func returnsRows(query string) bool {
	switch strings.ToUpper(leadingKeyword(query)) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return strings.Contains(strings.ToUpper(query), "RETURNING")
	default:
		return false
	}
}

func leadingKeyword(query string) string {
	fields := strings.FieldsFunc(stripLeadingComments(query), func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '(' || r == ';'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func stripLeadingComments(query string) string {
	q := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(q, "--"):
			idx := strings.IndexByte(q, '\n')
			if idx < 0 {
				return ""
			}
			q = strings.TrimSpace(q[idx+1:])
		case strings.HasPrefix(q, "/*"):
			idx := strings.Index(q, "*/")
			if idx < 0 {
				return ""
			}
			q = strings.TrimSpace(q[idx+2:])
		default:
			return q
		}
	}
}

func scanRows(rows *sql.Rows) (*pool.Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &pool.Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
