package surreal

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"graphpool/internal/platform/pool"
)

var (
	_ pool.Conn   = (*Conn)(nil)
	_ pool.Pinger = (*Conn)(nil)
)

// ErrStatement - оператор SurrealQL завершился со статусом, отличным от OK
var ErrStatement = errors.New("surreal: statement failed")

// errTxActive возвращается при повторном Begin на том же соединении
var errTxActive = errors.New("surreal: transaction already active on connection")

type queryFunc func(ctx context.Context, query string, vars map[string]any) (*[]surrealdb.QueryResult[any], error)

// Conn - соединение SurrealDB, которым управляет пул.
//
// Транзакции пакетные: между Begin и Commit операторы накапливаются
// и отправляются одним BEGIN/COMMIT TRANSACTION при коммите. Execute
// внутри транзакции возвращает пустой результат. Rollback отбрасывает пакет.
type Conn struct {
	db    *surrealdb.DB
	query queryFunc
	ping  func(ctx context.Context) error
	batch *Batch
}

func newConn(db *surrealdb.DB) *Conn {
	return &Conn{
		db: db,
		query: func(ctx context.Context, query string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
			return surrealdb.Query[any](ctx, db, query, vars)
		},
		ping: func(ctx context.Context) error {
			_, err := db.Version(ctx)
			return err
		},
	}
}

// InTx сообщает, накапливается ли транзакция.
func (c *Conn) InTx() bool { return c.batch != nil }

// Pending возвращает число операторов, ожидающих коммита.
func (c *Conn) Pending() int {
	if c.batch == nil {
		return 0
	}
	return c.batch.Len()
}

// Execute выполняет SurrealQL запрос. Каждому оператору соответствует
// строка результата: status, time, result.
func (c *Conn) Execute(ctx context.Context, query string, params map[string]any) (*pool.Result, error) {
	if c.batch != nil {
		c.batch.Add(query, params)
		return &pool.Result{}, nil
	}
	return c.run(ctx, query, trimVars(params))
}

func (c *Conn) run(ctx context.Context, query string, vars map[string]any) (*pool.Result, error) {
	results, err := c.query(ctx, query, vars)
	if err != nil {
		return nil, err
	}
	return toResult(results)
}

// Begin начинает накопление транзакции.
func (c *Conn) Begin(context.Context) error {
	if c.batch != nil {
		return errTxActive
	}
	c.batch = NewBatch()
	return nil
}

// Commit отправляет накопленные операторы одной транзакцией.
func (c *Conn) Commit(ctx context.Context) error {
	if c.batch == nil {
		return errors.New("surreal: no active transaction")
	}
	batch := c.batch
	c.batch = nil

	query, vars := batch.Build()
	if query == "" {
		return nil
	}
	_, err := c.run(ctx, query, vars)
	return err
}

// Rollback отбрасывает накопленные операторы. На сервер ничего не отправлялось.
func (c *Conn) Rollback(context.Context) error {
	c.batch = nil
	return nil
}

// Ping запрашивает версию сервера.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// Close закрывает соединение.
func (c *Conn) Close(ctx context.Context) error {
	c.batch = nil
	if c.db == nil {
		return nil
	}
	return c.db.Close(ctx)
}

func trimVars(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	vars := make(map[string]any, len(params))
	for name, value := range params {
		vars[trimDollar(name)] = value
	}
	return vars
}

func trimDollar(name string) string {
	if len(name) > 0 && name[0] == '$' {
		return name[1:]
	}
	return name
}

func toResult(results *[]surrealdb.QueryResult[any]) (*pool.Result, error) {
	out := &pool.Result{Columns: []string{"status", "time", "result"}}
	if results == nil {
		return out, nil
	}

	for i, r := range *results {
		if r.Status != "OK" {
			if r.Error != nil {
				return nil, fmt.Errorf("%w: statement %d: %s", ErrStatement, i+1, r.Error.Message)
			}
			return nil, fmt.Errorf("%w: statement %d: status %s", ErrStatement, i+1, r.Status)
		}
		out.Rows = append(out.Rows, []any{r.Status, r.Time, r.Result})
		if records, ok := r.Result.([]any); ok {
			out.RowsAffected += int64(len(records))
		}
	}
	return out, nil
}
