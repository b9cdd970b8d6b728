package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер

	"graphpool/internal/shared"
)

// TxLockMode определяет режим блокировки транзакций SQLite
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate - немедленно захватывает RESERVED блокировку для избежания SQLITE_BUSY при записи
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive - немедленно захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "EXCLUSIVE"
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// Options содержит настройки нативных соединений SQLite.
type Options struct {
	// Path - путь к файлу базы данных
	Path string
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
	// PingTimeout - таймаут проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - использовать WAL, чтобы читатели не блокировали писателя
	WALMode bool
	// ForeignKeys - включить проверку внешних ключей
	ForeignKeys bool
	// BusyTimeout - таймаут ожидания при SQLITE_BUSY
	BusyTimeout time.Duration
	// TxLockMode - режим блокировки для Begin
	TxLockMode TxLockMode
}

// DefaultOptions возвращает настройки по умолчанию для файла path.
func DefaultOptions(path string) Options {
	return Options{
		Path:        path,
		AccessMode:  AccessModeReadWriteCreate,
		PingTimeout: 5 * time.Second,
		WALMode:     true,
		ForeignKeys: true,
		BusyTimeout: 5 * time.Second,
		TxLockMode:  TxLockImmediate, // писатели из разных соединений пула сериализуются на BEGIN
	}
}

// Validate проверяет настройки.
// In-memory база не поддерживается: каждое соединение пула увидело бы свою копию.
func (o Options) Validate() error {
	var errs []error
	if o.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if o.Path == ":memory:" || strings.Contains(o.Path, "mode=memory") {
		errs = append(errs, errors.New("in-memory databases cannot be shared between pooled connections"))
	}
	switch o.TxLockMode {
	case "", TxLockDeferred, TxLockImmediate, TxLockExclusive:
	default:
		errs = append(errs, fmt.Errorf("unknown lock mode %q", o.TxLockMode))
	}
	switch o.AccessMode {
	case "", AccessModeReadWrite, AccessModeReadOnly, AccessModeReadWriteCreate:
	default:
		errs = append(errs, fmt.Errorf("unknown access mode %q", o.AccessMode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: sqlite: %w", shared.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// openDB открывает *sql.DB, ограниченный одним физическим соединением.
// Каждое соединение пула получает собственный *sql.DB.
func openDB(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.AccessMode != AccessModeReadOnly {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Ровно одно физическое соединение: *sql.DB здесь - оболочка над
	// нативным хэндлом, а пулом управляет пакет pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return db, nil
}

// buildDSN строит DSN строку для SQLite с минимальными параметрами.
// Режим доступа передаётся через URI (file:), поэтому SQLite его учитывает.
// Остальные настройки применяются через PRAGMA после открытия.
func buildDSN(opts Options) string {
	params := []string{}

	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, fmt.Sprintf("mode=%s", opts.AccessMode))
	}

	if opts.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}

	if len(params) == 0 {
		return opts.Path
	}

	path := opts.Path
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + filepath.ToSlash(path)
	}
	return path + "?" + strings.Join(params, "&")
}

// applyPragmaSettings применяет PRAGMA настройки к открытому соединению.
func applyPragmaSettings(ctx context.Context, db *sql.DB, opts Options) error {
	pragmas := make([]string, 0, 4)

	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	// WAL переключается только на запись, для read-only файла пропускаем
	if opts.WALMode && opts.AccessMode != AccessModeReadOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// IsBusyError проверяет, является ли ошибка SQLITE_BUSY/SQLITE_LOCKED.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database table is locked")
}
