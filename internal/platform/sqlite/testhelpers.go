package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

// TestDB - файловая SQLite база для тестов пула и контейнера.
// Factory открывает соединения для пула, DB - отдельное соединение
// для проверок из теста.
type TestDB struct {
	Factory *Factory
	DB      *sql.DB
	Path    string
}

// NewTestDB создаёт базу во временной директории теста.
// Файл и соединения удаляются автоматически после завершения теста.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	opts := DefaultOptions(filepath.Join(t.TempDir(), "test.db"))
	opts.BusyTimeout = 2 * time.Second

	factory, err := NewFactory(opts, nil)
	if err != nil {
		t.Fatalf("Failed to create sqlite factory: %v", err)
	}

	db, err := openDB(context.Background(), opts)
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return &TestDB{Factory: factory, DB: db, Path: opts.Path}
}

// ApplyTestMigrations применяет миграции к тестовой БД.
func (tdb *TestDB) ApplyTestMigrations(t *testing.T, migrationsPath string) {
	t.Helper()

	if err := ApplyMigrations(tdb.Path, migrationsPath); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// Exec выполняет SQL команду и проверяет отсутствие ошибок.
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) sql.Result {
	t.Helper()

	result, err := tdb.DB.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	return result
}

// MustSeedData выполняет несколько команд подряд.
func (tdb *TestDB) MustSeedData(t *testing.T, queries ...string) {
	t.Helper()

	for _, query := range queries {
		tdb.Exec(t, query)
	}
}

// CountRows возвращает количество строк в таблице.
func (tdb *TestDB) CountRows(t *testing.T, tableName string) int {
	t.Helper()

	var count int
	row := tdb.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}

// TableExists проверяет существование таблицы.
func (tdb *TestDB) TableExists(t *testing.T, tableName string) bool {
	t.Helper()

	var count int
	row := tdb.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	return count > 0
}
