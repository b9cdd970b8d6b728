package pool

import (
	"fmt"
	"log/slog"
	"time"

	"graphpool/pkg/retry"
)

// Options содержит параметры пула.
type Options struct {
	// MaxConns - максимальное количество соединений (>= 1)
	MaxConns int
	// MinConns - количество соединений, открываемых при создании пула (0 <= MinConns <= MaxConns)
	MinConns int
	// AcquireTimeout - сколько Checkout может ждать в очереди (> 0)
	AcquireTimeout time.Duration
	// OpenRetry - политика повторов при открытии соединения (nil = без повторов)
	OpenRetry *retry.Config
	// Logger - логгер пула (nil = slog.Default())
	Logger *slog.Logger
	// Recorder - получатель событий пула (опционально)
	Recorder EventRecorder
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		MaxConns:       4,
		MinConns:       1,
		AcquireTimeout: 5 * time.Second,
	}
}

// Validate проверяет границы параметров.
func (o Options) Validate() error {
	switch {
	case o.MaxConns < 1:
		return fmt.Errorf("%w: MaxConns must be at least 1, got %d", ErrInvalidOptions, o.MaxConns)
	case o.MinConns < 0:
		return fmt.Errorf("%w: MinConns cannot be negative, got %d", ErrInvalidOptions, o.MinConns)
	case o.MinConns > o.MaxConns:
		return fmt.Errorf("%w: MinConns (%d) exceeds MaxConns (%d)", ErrInvalidOptions, o.MinConns, o.MaxConns)
	case o.AcquireTimeout <= 0:
		return fmt.Errorf("%w: AcquireTimeout must be positive, got %s", ErrInvalidOptions, o.AcquireTimeout)
	}
	if o.OpenRetry != nil {
		cfg := *o.OpenRetry
		if err := cfg.Normalize(); err != nil {
			return fmt.Errorf("%w: OpenRetry: %w", ErrInvalidOptions, err)
		}
	}
	return nil
}
