package neo4jdb

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"graphpool/internal/platform/pool"
)

var (
	_ pool.Conn   = (*Conn)(nil)
	_ pool.Pinger = (*Conn)(nil)
)

// errTxActive возвращается при повторном Begin на той же сессии
var errTxActive = errors.New("neo4j: transaction already active on session")

// Conn - сессия Neo4j, которой управляет пул.
// Вне транзакции запросы выполняются в режиме auto-commit.
type Conn struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

// runner - общий метод Run у сессии и явной транзакции.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

type sessionRunner struct{ s neo4j.SessionWithContext }

func (r sessionRunner) Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	return r.s.Run(ctx, cypher, params)
}

func (c *Conn) runner() runner {
	if c.tx != nil {
		return c.tx
	}
	return sessionRunner{c.session}
}

// InTx сообщает, открыта ли транзакция.
func (c *Conn) InTx() bool { return c.tx != nil }

// Execute выполняет Cypher запрос. Узлы, связи и пути в строках
// превращаются в map, пригодные для JSON.
func (c *Conn) Execute(ctx context.Context, query string, params map[string]any) (*pool.Result, error) {
	res, err := c.runner().Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	keys, err := res.Keys()
	if err != nil {
		return nil, err
	}

	result := &pool.Result{Columns: keys}
	for res.Next(ctx) {
		record := res.Record()
		row := make([]any, len(record.Values))
		for i, v := range record.Values {
			row[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, err
	}
	result.RowsAffected = affected(summary.Counters())

	return result, nil
}

// Begin открывает явную транзакцию на сессии.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errTxActive
	}
	tx, err := c.session.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit фиксирует транзакцию. Транзакция закрывается драйвером
// и при неудаче, поэтому последующий Rollback ничего не делает.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("neo4j: no active transaction")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

// Rollback откатывает транзакцию, если она открыта.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	if err := c.tx.Rollback(ctx); err != nil {
		return err
	}
	c.tx = nil
	return nil
}

// Ping выполняет RETURN 1 на сессии (или в транзакции, если она открыта).
func (c *Conn) Ping(ctx context.Context) error {
	res, err := c.runner().Run(ctx, "RETURN 1", nil)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// Close закрывает сессию, предварительно закрыв незавершённую транзакцию.
func (c *Conn) Close(ctx context.Context) error {
	var txErr error
	if c.tx != nil {
		txErr = c.tx.Close(ctx)
		c.tx = nil
	}
	return errors.Join(txErr, c.session.Close(ctx))
}

// affected суммирует изменения графа из счётчиков запроса.
func affected(counters neo4j.Counters) int64 {
	return int64(counters.NodesCreated() + counters.NodesDeleted() +
		counters.RelationshipsCreated() + counters.RelationshipsDeleted() +
		counters.PropertiesSet())
}
