// Package sqlite предоставляет встраиваемый движок по умолчанию для пула
// соединений: фабрику нативных соединений SQLite, миграции и тестовые хелперы.
//
// Каждое соединение пула - отдельный *sql.DB с одним физическим соединением.
// Транзакции открываются вручную командой BEGIN с настроенным режимом
// блокировки, поэтому несколько писателей из пула сериализуются на BEGIN
// IMMEDIATE, а не падают с SQLITE_BUSY посреди транзакции.
//
// # Быстрый старт
//
//	factory, err := sqlite.NewFactory(sqlite.DefaultOptions("data/graph.db"), logger)
//	if err != nil {
//		return err
//	}
//	p, err := pool.New(ctx, factory, pool.DefaultOptions())
//
// Параметры запросов передаются по имени:
//
//	res, err := conn.Execute(ctx, "SELECT id FROM nodes WHERE label = :label",
//		map[string]any{"label": "Person"})
//
// # Миграции
//
//	err = sqlite.ApplyMigrations("data/graph.db", "file://migrations/sqlite")
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		testDB := sqlite.NewTestDB(t)
//		testDB.MustSeedData(t, "CREATE TABLE nodes (id INTEGER PRIMARY KEY)")
//		// testDB.Factory передаётся в pool.New
//	}
package sqlite
