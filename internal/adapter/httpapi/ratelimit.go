package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LimiterStore hands out one token bucket per client key and forgets keys
// that have been idle for longer than idleTTL.
type LimiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry

	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a store allowing rps requests per second with the given burst.
func NewLimiterStore(rps float64, burst int, idleTTL time.Duration) *LimiterStore {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &LimiterStore{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

// Get returns the limiter for key, creating it on first use.
func (s *LimiterStore) Get(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Len returns the number of tracked keys.
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops keys not seen within idleTTL.
func (s *LimiterStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (s *LimiterStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	RPS   float64
	Burst int
	// KeyHeader, when set and present, identifies the client instead of its IP
	KeyHeader  string
	RetryAfter time.Duration
}

// RateLimit rejects requests over the per-client budget with 429.
func RateLimit(store *LimiterStore, opts RateLimitOptions) gin.HandlerFunc {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	retryAfter := strconv.Itoa(int(opts.RetryAfter.Seconds()))

	return func(c *gin.Context) {
		key := c.ClientIP()
		if opts.KeyHeader != "" {
			if v := strings.TrimSpace(c.GetHeader(opts.KeyHeader)); v != "" {
				key = v
			}
		}

		lim := store.Get(key)
		c.Header("X-RateLimit-Limit", strconv.FormatFloat(float64(lim.Limit()), 'f', -1, 64))
		c.Header("X-RateLimit-Burst", strconv.Itoa(lim.Burst()))

		if !lim.Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: http.StatusText(http.StatusTooManyRequests),
				Code:  http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}
