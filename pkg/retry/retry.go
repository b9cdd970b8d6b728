package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// JitterStrategy defines the jitter strategy to use
type JitterStrategy int

const (
	// JitterNone disables jitter
	JitterNone JitterStrategy = iota
	// JitterEqual picks a delay uniformly in [MinDelay, delay]
	JitterEqual
	// JitterDecorrelated picks a delay in [delay, 1.5*delay]
	JitterDecorrelated
)

// Config defines retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one)
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the delay before the second attempt
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MinDelay is the lower bound for jittered delays (defaults to InitialDelay)
	MinDelay time.Duration `yaml:"min_delay"`
	// MaxDelay caps the delay between attempts
	MaxDelay time.Duration `yaml:"max_delay"`
	// MaxElapsedTime is the total time budget (0 = no limit)
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`
	// Multiplier is the exponential backoff multiplier
	Multiplier float64 `yaml:"multiplier"`
	// JitterStrategy defines the jitter algorithm to use
	JitterStrategy JitterStrategy `yaml:"-"`
	// Rand is the random source for jitter (optional)
	Rand *rand.Rand `yaml:"-"`
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, nextDelay time.Duration) `yaml:"-"`
	// Now returns current time (for tests)
	Now func() time.Time `yaml:"-"`
	// After creates a timer channel (for tests)
	After func(d time.Duration) <-chan time.Time `yaml:"-"`
}

// DefaultConfig returns the configuration used for opening database handles.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterStrategy: JitterDecorrelated,
	}
}

// Normalize validates the configuration and fills optional fields.
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MinDelay <= 0 {
		c.MinDelay = c.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MinDelay > c.MaxDelay {
		return errors.New("retry: MinDelay cannot be greater than MaxDelay")
	}
	if c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay cannot be greater than MaxDelay")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if c.MaxElapsedTime < 0 {
		return errors.New("retry: MaxElapsedTime cannot be negative")
	}

	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	return nil
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when the attempt or time budget is spent.
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
	Reason        string
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempts): %v",
		e.Reason, e.TotalDuration, e.Attempts, e.LastError)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns the unwrapped error at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DefaultRetryable treats timeouts, dropped connections and refused dials as
// transient. Cancellation and permanent errors are never retried.
func DefaultRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE, syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	type temporary interface {
		Temporary() bool
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// AlwaysRetryable retries every error except cancellation and permanent errors.
func AlwaysRetryable(err error) bool {
	return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// Do executes fn with exponential backoff using DefaultRetryable.
func Do(ctx context.Context, config Config, fn RetryableFunc) error {
	return DoWithRetryable(ctx, config, fn, DefaultRetryable)
}

// DoWithRetryable executes fn until it succeeds, returns a non-retryable error
// or the budget is spent.
func DoWithRetryable(ctx context.Context, config Config, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	cfg := config
	if err := cfg.Normalize(); err != nil {
		return err
	}

	var lastErr error
	start := cfg.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		delay := cfg.applyJitter(cfg.backoff(attempt))

		if cfg.MaxElapsedTime > 0 {
			elapsed := cfg.Now().Sub(start)
			if elapsed+delay > cfg.MaxElapsedTime {
				return &RetriesExceededError{
					LastError:     lastErr,
					Attempts:      attempt,
					TotalDuration: elapsed,
					Reason:        "max elapsed time exceeded",
				}
			}
		}

		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); delay > remaining {
				delay = remaining
			}
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-cfg.After(delay):
		}
	}

	return &RetriesExceededError{
		LastError:     lastErr,
		Attempts:      cfg.MaxAttempts,
		TotalDuration: cfg.Now().Sub(start),
		Reason:        "max attempts exceeded",
	}
}

// backoff returns InitialDelay * Multiplier^(attempt-1), capped by MaxDelay.
func (c Config) backoff(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * c.Multiplier)
		if next > c.MaxDelay || next < delay {
			return c.MaxDelay
		}
		delay = next
	}
	return clamp(delay, c.MinDelay, c.MaxDelay)
}

func (c Config) applyJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	switch c.JitterStrategy {
	case JitterEqual:
		return clamp(time.Duration(c.Rand.Int63n(int64(delay)+1)), c.MinDelay, c.MaxDelay)
	case JitterDecorrelated:
		return clamp(delay+time.Duration(c.Rand.Int63n(int64(delay/2)+1)), c.MinDelay, c.MaxDelay)
	default:
		return delay
	}
}

func clamp(value, lo, hi time.Duration) time.Duration {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
