package pg

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"graphpool/internal/shared"
	"graphpool/pkg/retry"
)

// WaitOptions содержит опции ожидания доступности БД.
type WaitOptions struct {
	// Retry - политика повторов между попытками подключения
	Retry retry.Config
	// PingTimeout - таймаут каждой попытки
	PingTimeout time.Duration
}

// DefaultWaitOptions возвращает опции по умолчанию:
// 10 попыток с экспоненциальной задержкой от 1s до 30s.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Retry: retry.Config{
			MaxAttempts:    10,
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2.0,
			JitterStrategy: retry.JitterNone,
		},
		PingTimeout: 5 * time.Second,
	}
}

// WaitForDB ожидает доступности базы данных до исчерпания попыток или контекста.
// Используется при старте, до создания пула, когда сервер поднимается
// параллельно с приложением.
func WaitForDB(ctx context.Context, dsn string, opts WaitOptions) error {
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return fmt.Errorf("%w: pg: invalid DSN: %v", shared.ErrValidation, err)
	}

	err := retry.DoWithRetryable(ctx, opts.Retry, func(ctx context.Context) error {
		return pingDatabase(ctx, dsn, opts.PingTimeout)
	}, retry.AlwaysRetryable)
	if err != nil {
		return fmt.Errorf("%w: database not available: %w", shared.ErrUnavailable, err)
	}
	return nil
}

// WaitForDBSimple ждёт БД до общего таймаута без ограничения числа попыток.
func WaitForDBSimple(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := DefaultWaitOptions()
	opts.Retry.MaxAttempts = math.MaxInt32
	return WaitForDB(ctx, dsn, opts)
}

// HealthCheck выполняет разовую проверку доступности БД.
func HealthCheck(ctx context.Context, dsn string) error {
	return pingDatabase(ctx, dsn, 5*time.Second)
}

// pingDatabase открывает временное соединение и выполняет SELECT 1.
func pingDatabase(ctx context.Context, dsn string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var result int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}
	return nil
}
