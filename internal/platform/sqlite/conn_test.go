package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

func openTestConn(t *testing.T, tdb *TestDB) *Conn {
	t.Helper()

	raw, err := tdb.Factory.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tdb.Factory.Close(context.Background(), raw)
	})
	return raw.(*Conn)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions("graph.db"), false},
		{"empty path", Options{}, true},
		{"memory", DefaultOptions(":memory:"), true},
		{"shared memory uri", DefaultOptions("file:x?mode=memory&cache=shared"), true},
		{"bad lock mode", Options{Path: "a.db", TxLockMode: "SOMETIMES"}, true},
		{"bad access mode", Options{Path: "a.db", AccessMode: "wx"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, shared.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"plain", Options{Path: "graph.db"}, "graph.db"},
		{"read write is default", Options{Path: "graph.db", AccessMode: AccessModeReadWrite}, "graph.db"},
		{"read only", Options{Path: "graph.db", AccessMode: AccessModeReadOnly}, "file:graph.db?mode=ro"},
		{
			"busy timeout",
			Options{Path: "graph.db", AccessMode: AccessModeReadWriteCreate, BusyTimeout: 1500 * time.Millisecond},
			"file:graph.db?mode=rwc&_pragma=busy_timeout(1500)",
		},
		{"file uri kept", Options{Path: "file:graph.db", AccessMode: AccessModeReadOnly}, "file:graph.db?mode=ro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.opts))
		})
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from nodes", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"PRAGMA journal_mode", true},
		{"(SELECT 1)", true},
		{"-- comment\nSELECT 1", true},
		{"/* hint */ SELECT 1", true},
		{"INSERT INTO nodes(name) VALUES ('a')", false},
		{"INSERT INTO nodes(name) VALUES ('a') RETURNING id", true},
		{"UPDATE nodes SET name = 'b'", false},
		{"CREATE TABLE t (id INTEGER)", false},
		{"", false},
		{"-- only a comment", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, returnsRows(tt.query))
		})
	}
}

func TestNamedArgs_SortedAndPrefixTrimmed(t *testing.T) {
	args := namedArgs(map[string]any{":b": 2, "a": 1, "$c": 3})
	require.Len(t, args, 3)

	var names []string
	for _, a := range args {
		names = append(names, a.(sql.NamedArg).Name)
	}
	assert.Equal(t, []string{"c", "b", "a"}, names, "сортировка идёт по исходному ключу")

	assert.Nil(t, namedArgs(nil))
}

func TestConn_Execute(t *testing.T) {
	tdb := NewTestDB(t)
	conn := openTestConn(t, tdb)
	ctx := context.Background()

	_, err := conn.Execute(ctx, "CREATE TABLE nodes (id INTEGER PRIMARY KEY, label TEXT NOT NULL, weight REAL)", nil)
	require.NoError(t, err)

	res, err := conn.Execute(ctx, "INSERT INTO nodes(label, weight) VALUES (:label, :weight)",
		map[string]any{"label": "Person", "weight": 1.5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	res, err = conn.Execute(ctx, "INSERT INTO nodes(label) VALUES (@label) RETURNING id",
		map[string]any{"label": "City"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"id"}, res.Columns)

	res, err = conn.Execute(ctx, "SELECT label, weight FROM nodes WHERE label = $label",
		map[string]any{"$label": "Person"})
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "weight"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Person", res.Rows[0][0])
	assert.Equal(t, 1.5, res.Rows[0][1])

	_, err = conn.Execute(ctx, "SELECT * FROM missing", nil)
	assert.Error(t, err, "ошибки движка возвращаются как есть")
}

func TestConn_Transactions(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.MustSeedData(t, "CREATE TABLE edges (id INTEGER PRIMARY KEY, kind TEXT)")
	conn := openTestConn(t, tdb)
	ctx := context.Background()

	require.NoError(t, conn.Begin(ctx))
	assert.True(t, conn.InTx())
	assert.ErrorIs(t, conn.Begin(ctx), errTxActive)

	_, err := conn.Execute(ctx, "INSERT INTO edges(kind) VALUES ('KNOWS')", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Rollback(ctx))
	assert.False(t, conn.InTx())
	assert.Equal(t, 0, tdb.CountRows(t, "edges"))

	require.NoError(t, conn.Begin(ctx))
	_, err = conn.Execute(ctx, "INSERT INTO edges(kind) VALUES ('LIKES')", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, 1, tdb.CountRows(t, "edges"))

	assert.NoError(t, conn.Rollback(ctx), "откат без активной транзакции не ошибка")
	assert.NoError(t, conn.Ping(ctx))
}

func TestConn_TracksRawTransactionStatements(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.MustSeedData(t, "CREATE TABLE edges (id INTEGER PRIMARY KEY, kind TEXT)")
	conn := openTestConn(t, tdb)
	ctx := context.Background()

	steps := []struct {
		query string
		inTx  bool
	}{
		{"BEGIN IMMEDIATE", true},
		{"SAVEPOINT sp1", true},
		{"ROLLBACK TO sp1", true},
		{"COMMIT", false},
		{"-- raw\nbegin;", true},
		{"ROLLBACK", false},
		{"SAVEPOINT outer", true},
		{"END", false},
	}
	for _, st := range steps {
		_, err := conn.Execute(ctx, st.query, nil)
		require.NoError(t, err, st.query)
		assert.Equal(t, st.inTx, conn.InTx(), st.query)
	}

	assert.Equal(t, "BEGIN", leadingKeyword("  /* x */ BEGIN;"))
	assert.Equal(t, "", leadingKeyword("-- nothing"))
}

func TestConn_ImmediateLockSerializesWriters(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.MustSeedData(t, "CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER)")

	opts := tdb.Factory.Options()
	opts.BusyTimeout = 50 * time.Millisecond
	factory, err := NewFactory(opts, nil)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := factory.Open(ctx)
	require.NoError(t, err)
	defer factory.Close(ctx, first)
	second, err := factory.Open(ctx)
	require.NoError(t, err)
	defer factory.Close(ctx, second)

	require.NoError(t, first.Begin(ctx))
	err = second.Begin(ctx)
	require.Error(t, err, "второй писатель не может получить RESERVED блокировку")
	assert.True(t, IsBusyError(err))

	require.NoError(t, first.Commit(ctx))
	require.NoError(t, second.Begin(ctx))
	require.NoError(t, second.Rollback(ctx))
}

func TestFactory_CloseRejectsForeignConn(t *testing.T) {
	tdb := NewTestDB(t)
	err := tdb.Factory.Close(context.Background(), nil)
	assert.Error(t, err)
}

func TestFactory_ReadOnlyMissingFile(t *testing.T) {
	opts := DefaultOptions(filepath.Join(t.TempDir(), "absent.db"))
	opts.AccessMode = AccessModeReadOnly
	factory, err := NewFactory(opts, nil)
	require.NoError(t, err)

	_, err = factory.Open(context.Background())
	assert.Error(t, err)
}

// Соединения пула работают с одним файлом: запись через одно видна через другое.
func TestFactory_WithPool(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.MustSeedData(t, "CREATE TABLE nodes (id INTEGER PRIMARY KEY, label TEXT)")
	ctx := context.Background()

	p, err := pool.New(ctx, tdb.Factory, pool.Options{MaxConns: 2, MinConns: 2, AcquireTimeout: time.Second})
	require.NoError(t, err)
	defer p.Drain(ctx)

	a, err := p.Checkout(ctx)
	require.NoError(t, err)
	b, err := p.Checkout(ctx)
	require.NoError(t, err)

	_, err = a.Execute(ctx, "INSERT INTO nodes(label) VALUES (:label)", map[string]any{"label": "Person"})
	require.NoError(t, err)

	res, err := b.Execute(ctx, "SELECT COUNT(*) AS n FROM nodes", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0])

	require.NoError(t, p.Checkin(a))
	require.NoError(t, p.Checkin(b))
	require.NoError(t, pool.HealthCheck(ctx, p))
}
