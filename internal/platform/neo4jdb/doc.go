// Package neo4jdb подключает Neo4j к пулу соединений.
//
// Фабрика держит один драйвер, а каждое соединение пула - отдельная сессия.
// Begin открывает явную транзакцию сессии, Execute выполняет Cypher с
// параметрами по имени ($name).
//
//	factory, err := neo4jdb.NewFactory(ctx, neo4jdb.DefaultOptions(uri, user, pass), logger)
//	if err != nil {
//		return err
//	}
//	defer factory.Shutdown(context.Background())
//	p, err := pool.New(ctx, factory, pool.DefaultOptions())
package neo4jdb
