// Package pool реализует ограниченный пул соединений к встраиваемому движку
// базы данных и транзакционную обёртку над ним.
//
// Пул ничего не знает о конкретном движке: соединения открывает Factory,
// а от самого соединения требуется только минимальный набор операций
// (Execute, Begin, Commit, Rollback, Close).
//
// Основные гарантии:
//   - inUse + len(idle) никогда не превышает MaxConns;
//   - одно соединение никогда не принадлежит двум вызывающим одновременно;
//   - ожидающие Checkout обслуживаются строго в порядке прихода (FIFO);
//   - после Drain ни один Checkout не завершается успешно и не блокируется.
//
// Пример использования:
//
//	p, err := pool.New(ctx, factory, pool.Options{
//	    MaxConns:       4,
//	    AcquireTimeout: 2 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Drain(context.Background())
//
//	runner := pool.NewTxRunner(p)
//	err = runner.WithinTx(ctx, func(ctx context.Context, conn *pool.PooledConn) error {
//	    _, err := conn.Execute(ctx, "INSERT INTO nodes(name) VALUES (:name)", map[string]any{"name": "a"})
//	    return err
//	})
package pool
