package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"graphpool/internal/shared"
)

// Config holds application configuration values.
type Config struct {
	Env    string `yaml:"env" validate:"required,oneof=dev prod"`
	Engine string `yaml:"engine" validate:"required,oneof=sqlite pg neo4j surreal"`

	Pool struct {
		MaxConns        int           `yaml:"max_conns" validate:"min=1"`
		MinConns        int           `yaml:"min_conns" validate:"min=0,ltefield=MaxConns"`
		AcquireTimeout  time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
		RollbackTimeout time.Duration `yaml:"rollback_timeout" validate:"gte=0"`
		OpenRetries     int           `yaml:"open_retries" validate:"min=0"`
	} `yaml:"pool"`

	SQLite struct {
		Path       string        `yaml:"path"`
		LockMode   string        `yaml:"lock_mode" validate:"omitempty,oneof=DEFERRED IMMEDIATE EXCLUSIVE"`
		BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
	} `yaml:"sqlite"`

	// Postgres takes either DSN or the discrete PG* parts
	Postgres struct {
		DSN         string        `yaml:"dsn"`
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port" validate:"gte=0,lte=65535"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		Database    string        `yaml:"database"`
		SSLMode     string        `yaml:"sslmode"`
		WaitTimeout time.Duration `yaml:"wait_timeout" validate:"gte=0"`
	} `yaml:"postgres"`

	Neo4j struct {
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"neo4j"`

	Surreal struct {
		Endpoint  string `yaml:"endpoint"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
	} `yaml:"surreal"`

	// Migrations is a golang-migrate source URL; empty disables migrations
	Migrations string `yaml:"migrations"`

	HTTP struct {
		Addr           string        `yaml:"addr" validate:"required"`
		RateRPS        float64       `yaml:"rate_rps" validate:"gte=0"`
		RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
		RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
		// Tokens turns on bearer auth for the admin API
		Tokens         []string      `yaml:"tokens"`
	} `yaml:"http"`

	// Redis is optional; without Addr pool events are counted in memory
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" validate:"gte=0"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	} `yaml:"redis"`

	Probe struct {
		Schedule string        `yaml:"schedule" validate:"required"`
		Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"probe"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	Log struct {
		ConsoleLevel string `yaml:"console_level" validate:"required,oneof=debug info warn error"`
		FileLevel    string `yaml:"file_level" validate:"required,oneof=debug info warn error"`
		File         string `yaml:"file"`
		MaxSizeMB    int    `yaml:"max_size_mb" validate:"gte=0"`
		MaxBackups   int    `yaml:"max_backups" validate:"gte=0"`
		MaxAgeDays   int    `yaml:"max_age_days" validate:"gte=0"`
	} `yaml:"log"`
}

var validate = validator.New()

// Default returns the configuration used when nothing is set.
func Default() Config {
	var c Config
	c.Env = "prod"
	c.Engine = "sqlite"
	c.Pool.MaxConns = 4
	c.Pool.MinConns = 1
	c.Pool.AcquireTimeout = 5 * time.Second
	c.Pool.RollbackTimeout = 5 * time.Second
	c.SQLite.Path = "data/graph.db"
	c.SQLite.LockMode = "IMMEDIATE"
	c.SQLite.BusyTimeout = 5 * time.Second
	c.Postgres.WaitTimeout = 30 * time.Second
	c.Neo4j.Database = "neo4j"
	c.HTTP.Addr = ":8080"
	c.HTTP.RateRPS = 20
	c.HTTP.RateBurst = 40
	c.HTTP.RequestTimeout = 30 * time.Second
	c.Redis.Prefix = "graphpool:pool"
	c.Redis.TTL = 24 * time.Hour
	c.Probe.Schedule = "@every 30s"
	c.Probe.Timeout = 5 * time.Second
	c.ShutdownTimeout = 15 * time.Second
	c.Log.ConsoleLevel = "info"
	c.Log.FileLevel = "debug"
	c.Log.File = "data/logs/graphpool.log"
	return c
}

// Load reads configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables and an optional .env file.
func Load() (Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit YAML file. An empty path falls back to CONFIG_FILE.
func LoadFrom(path string) (Config, error) {
	_ = godotenv.Load()

	c := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadFile(path, &c); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", shared.ErrValidation, path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	var errs []error

	setString(&c.Env, "ENV")
	setString(&c.Engine, "DB_ENGINE")
	errs = append(errs,
		setInt(&c.Pool.MaxConns, "POOL_MAX_CONNS"),
		setInt(&c.Pool.MinConns, "POOL_MIN_CONNS"),
		setDuration(&c.Pool.AcquireTimeout, "POOL_ACQUIRE_TIMEOUT"),
		setDuration(&c.Pool.RollbackTimeout, "POOL_ROLLBACK_TIMEOUT"),
		setInt(&c.Pool.OpenRetries, "POOL_OPEN_RETRIES"),
	)

	setString(&c.SQLite.Path, "SQLITE_PATH")
	setString(&c.SQLite.LockMode, "SQLITE_LOCK_MODE")
	errs = append(errs, setDuration(&c.SQLite.BusyTimeout, "SQLITE_BUSY_TIMEOUT"))

	setString(&c.Postgres.DSN, "DATABASE_URL")
	setString(&c.Postgres.Host, "PGHOST")
	setString(&c.Postgres.User, "PGUSER")
	setString(&c.Postgres.Password, "PGPASSWORD")
	setString(&c.Postgres.Database, "PGDATABASE")
	setString(&c.Postgres.SSLMode, "PGSSLMODE")
	errs = append(errs, setInt(&c.Postgres.Port, "PGPORT"))
	errs = append(errs, setDuration(&c.Postgres.WaitTimeout, "DATABASE_WAIT_TIMEOUT"))

	setString(&c.Neo4j.URI, "NEO4J_URI")
	setString(&c.Neo4j.Username, "NEO4J_USERNAME")
	setString(&c.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.Neo4j.Database, "NEO4J_DATABASE")

	setString(&c.Surreal.Endpoint, "SURREAL_ENDPOINT")
	setString(&c.Surreal.Username, "SURREAL_USERNAME")
	setString(&c.Surreal.Password, "SURREAL_PASSWORD")
	setString(&c.Surreal.Namespace, "SURREAL_NAMESPACE")
	setString(&c.Surreal.Database, "SURREAL_DATABASE")

	setString(&c.Migrations, "MIGRATIONS_PATH")

	setString(&c.HTTP.Addr, "HTTP_ADDR")
	if v := os.Getenv("HTTP_ADMIN_TOKENS"); v != "" {
		c.HTTP.Tokens = splitList(v)
	}
	errs = append(errs,
		setFloat(&c.HTTP.RateRPS, "HTTP_RATE_RPS"),
		setInt(&c.HTTP.RateBurst, "HTTP_RATE_BURST"),
		setDuration(&c.HTTP.RequestTimeout, "HTTP_REQUEST_TIMEOUT"),
	)

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.Prefix, "REDIS_PREFIX")
	errs = append(errs,
		setInt(&c.Redis.DB, "REDIS_DB"),
		setDuration(&c.Redis.TTL, "REDIS_STATS_TTL"),
	)

	setString(&c.Probe.Schedule, "PROBE_SCHEDULE")
	errs = append(errs,
		setDuration(&c.Probe.Timeout, "PROBE_TIMEOUT"),
		setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
	)

	if v := os.Getenv("LOG_CONSOLE_LEVEL"); v != "" {
		c.Log.ConsoleLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE_LEVEL"); v != "" {
		c.Log.FileLevel = strings.ToLower(v)
	}
	setString(&c.Log.File, "LOG_FILE")
	errs = append(errs,
		setInt(&c.Log.MaxSizeMB, "LOG_MAX_SIZE_MB"),
		setInt(&c.Log.MaxBackups, "LOG_MAX_BACKUPS"),
		setInt(&c.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS"),
	)

	return errors.Join(errs...)
}

// Validate checks field constraints and the settings the selected engine needs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	var missing []string
	switch c.Engine {
	case "sqlite":
		if c.SQLite.Path == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "pg":
		if c.Postgres.DSN == "" && (c.Postgres.User == "" || c.Postgres.Database == "") {
			missing = append(missing, "DATABASE_URL (or PGUSER and PGDATABASE)")
		}
	case "neo4j":
		if c.Neo4j.URI == "" {
			missing = append(missing, "NEO4J_URI")
		}
		if c.Neo4j.Username == "" {
			missing = append(missing, "NEO4J_USERNAME")
		}
	case "surreal":
		if c.Surreal.Endpoint == "" {
			missing = append(missing, "SURREAL_ENDPOINT")
		}
		if c.Surreal.Namespace == "" {
			missing = append(missing, "SURREAL_NAMESPACE")
		}
		if c.Surreal.Database == "" {
			missing = append(missing, "SURREAL_DATABASE")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: engine %s requires %s", shared.ErrValidation, c.Engine, strings.Join(missing, ", "))
	}
	return nil
}

// splitList splits a comma, tab or newline separated list and drops blanks.
func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\t' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrValidation, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrValidation, key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrValidation, key, err)
	}
	*dst = d
	return nil
}
