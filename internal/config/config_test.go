package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphpool/internal/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Engine)
	assert.Equal(t, 4, c.Pool.MaxConns)
	assert.Equal(t, 5*time.Second, c.Pool.AcquireTimeout)
	assert.Equal(t, "@every 30s", c.Probe.Schedule)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: dev
engine: pg
pool:
  max_conns: 8
  min_conns: 2
  acquire_timeout: 750ms
postgres:
  dsn: postgres://graph@localhost:5432/graph
http:
  addr: ":9090"
log:
  console_level: debug
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POOL_MAX_CONNS", "16")
	t.Setenv("LOG_FILE_LEVEL", "WARN")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, "pg", c.Engine)
	assert.Equal(t, 16, c.Pool.MaxConns, "env wins over file")
	assert.Equal(t, 2, c.Pool.MinConns)
	assert.Equal(t, 750*time.Millisecond, c.Pool.AcquireTimeout)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, "debug", c.Log.ConsoleLevel)
	assert.Equal(t, "warn", c.Log.FileLevel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown engine", map[string]string{"DB_ENGINE": "mysql"}},
		{"min above max", map[string]string{"POOL_MAX_CONNS": "2", "POOL_MIN_CONNS": "3"}},
		{"zero max", map[string]string{"POOL_MAX_CONNS": "0", "POOL_MIN_CONNS": "0"}},
		{"bad int", map[string]string{"POOL_MAX_CONNS": "many"}},
		{"bad duration", map[string]string{"POOL_ACQUIRE_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"POOL_ACQUIRE_TIMEOUT": "0s"}},
		{"pg without dsn", map[string]string{"DB_ENGINE": "pg", "DATABASE_URL": "", "PGUSER": ""}},
		{"neo4j without uri", map[string]string{"DB_ENGINE": "neo4j", "NEO4J_URI": ""}},
		{"surreal without namespace", map[string]string{
			"DB_ENGINE": "surreal", "SURREAL_ENDPOINT": "ws://localhost:8000", "SURREAL_NAMESPACE": "",
		}},
		{"bad lock mode", map[string]string{"SQLITE_LOCK_MODE": "SOMETIMES"}},
		{"bad log level", map[string]string{"LOG_CONSOLE_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: [1, 2"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestLoadFrom_ExplicitPathWinsOverEnv(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("http:\n  addr: \":7070\"\n"), 0o644))
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.yaml"))

	c, err := LoadFrom(explicit)
	require.NoError(t, err)
	assert.Equal(t, ":7070", c.HTTP.Addr)

	_, err = Load()
	assert.Error(t, err, "CONFIG_FILE pointing nowhere is an error")
}

func TestLoad_AdminTokens(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_ADMIN_TOKENS", "alpha, beta\n\tgamma,,")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, c.HTTP.Tokens)
}

func TestLoad_PostgresParts(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_ENGINE", "pg")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PGHOST", "db")
	t.Setenv("PGPORT", "5433")
	t.Setenv("PGUSER", "graph")
	t.Setenv("PGDATABASE", "graphdb")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "db", c.Postgres.Host)
	assert.Equal(t, 5433, c.Postgres.Port)
	assert.Equal(t, "graph", c.Postgres.User)
}
