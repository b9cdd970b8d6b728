package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

type customError struct {
	message   string
	temporary bool
}

func (e customError) Error() string   { return e.message }
func (e customError) Temporary() bool { return e.temporary }

// instantAfter fires immediately and records requested delays.
func instantAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func testConfig(delays *[]time.Duration) Config {
	return Config{
		MaxAttempts:    4,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       40 * time.Millisecond,
		Multiplier:     2,
		JitterStrategy: JitterNone,
		After:          instantAfter(delays),
	}
}

func TestDefaultRetryable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"connection refused", refused, true},
		{"temporary error", customError{"temp", true}, true},
		{"non-temporary error", customError{"not temp", false}, false},
		{"permanent timeout", Permanent(context.DeadlineExceeded), false},
		{"regular error", errors.New("regular"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryable(tt.err); got != tt.expected {
				t.Errorf("DefaultRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestAlwaysRetryable(t *testing.T) {
	if !AlwaysRetryable(errors.New("disk busy")) {
		t.Error("plain error should be retryable")
	}
	if AlwaysRetryable(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if AlwaysRetryable(Permanent(errors.New("bad dsn"))) {
		t.Error("permanent error must not be retried")
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}

	for _, tt := range tests {
		if got := cfg.backoff(tt.attempt); got != tt.expected {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestApplyJitter_StaysInBounds(t *testing.T) {
	for _, strategy := range []JitterStrategy{JitterEqual, JitterDecorrelated} {
		cfg := Config{
			InitialDelay:   50 * time.Millisecond,
			MaxDelay:       time.Second,
			JitterStrategy: strategy,
			Rand:           rand.New(rand.NewSource(1)),
		}
		if err := cfg.Normalize(); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 200; i++ {
			d := cfg.applyJitter(200 * time.Millisecond)
			if d < cfg.MinDelay || d > cfg.MaxDelay {
				t.Fatalf("strategy %d: delay %v out of [%v, %v]", strategy, d, cfg.MinDelay, cfg.MaxDelay)
			}
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero attempts", Config{InitialDelay: time.Millisecond}},
		{"zero delay", Config{MaxAttempts: 1}},
		{"initial above max", Config{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond}},
		{"multiplier below one", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 0.5}},
		{"negative budget", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxElapsedTime: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if err := cfg.Normalize(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	err := DoWithRetryable(context.Background(), testConfig(&delays), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, AlwaysRetryable)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	last := errors.New("still down")
	attempts := 0

	err := DoWithRetryable(context.Background(), testConfig(&delays), func(context.Context) error {
		attempts++
		return last
	}, AlwaysRetryable)

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %T: %v", err, err)
	}
	if exceeded.Attempts != 4 || attempts != 4 {
		t.Errorf("attempts = %d/%d, want 4", exceeded.Attempts, attempts)
	}
	if !errors.Is(err, last) {
		t.Error("error should unwrap to the last failure")
	}
	if len(delays) != 3 || delays[2] != 40*time.Millisecond {
		t.Errorf("unexpected delays %v", delays)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var delays []time.Duration
	bad := errors.New("authentication failed")
	attempts := 0

	err := DoWithRetryable(context.Background(), testConfig(&delays), func(context.Context) error {
		attempts++
		return Permanent(bad)
	}, AlwaysRetryable)

	if err != bad {
		t.Errorf("expected the unwrapped permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_NonRetryableReturnsAsIs(t *testing.T) {
	var delays []time.Duration
	bad := errors.New("syntax error")

	err := Do(context.Background(), testConfig(&delays), func(context.Context) error { return bad })
	if err != bad {
		t.Errorf("expected original error, got %v", err)
	}
	if len(delays) != 0 {
		t.Errorf("no waits expected, got %v", delays)
	}
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	cause := errors.New("refused")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := DoWithRetryable(ctx, cfg, func(context.Context) error { return cause }, AlwaysRetryable)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected last error to be kept, got %v", err)
	}
}

func TestDo_MaxElapsedTime(t *testing.T) {
	var delays []time.Duration
	cfg := testConfig(&delays)
	cfg.MaxElapsedTime = 15 * time.Millisecond

	now := time.Unix(0, 0)
	cfg.Now = func() time.Time { return now }
	cfg.After = func(d time.Duration) <-chan time.Time {
		now = now.Add(d)
		ch := make(chan time.Time, 1)
		ch <- now
		return ch
	}

	err := DoWithRetryable(context.Background(), cfg, func(context.Context) error {
		return errors.New("busy")
	}, AlwaysRetryable)

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %v", err)
	}
	if exceeded.Reason != "max elapsed time exceeded" {
		t.Errorf("unexpected reason %q", exceeded.Reason)
	}
	if exceeded.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", exceeded.Attempts)
	}
}
