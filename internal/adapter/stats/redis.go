package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"graphpool/internal/platform/pool"
)

// RedisRecorder writes pool events to Redis hashes:
//
//	<prefix>:total               kind -> count (never expires)
//	<prefix>:minute:YYYYMMDDhhmm kind -> count (expires after ttl)
//	<prefix>:wait                kind -> summed wait in microseconds
type RedisRecorder struct {
	rdb redis.UniversalClient

	prefix string
	// ttl applies to minute buckets only
	ttl    time.Duration
	bucket string // "minute" (default) or "none"
}

var _ pool.EventRecorder = (*RedisRecorder)(nil)

// RedisOption configures a RedisRecorder.
type RedisOption func(*RedisRecorder)

// WithPrefix sets the key prefix. Surrounding colons are trimmed.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets how long minute buckets live.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

// WithBucket selects "minute" or "none".
func WithBucket(bucket string) RedisOption {
	return func(r *RedisRecorder) { r.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// NewRedisRecorder creates a recorder with prefix "graphpool:pool",
// minute buckets and a 24h bucket TTL.
func NewRedisRecorder(rdb redis.UniversalClient, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "graphpool:pool",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) totalKey() string { return r.prefix + ":total" }

func (r *RedisRecorder) waitKey() string { return r.prefix + ":wait" }

func (r *RedisRecorder) bucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
}

// Record implements pool.EventRecorder with a single pipeline round trip.
func (r *RedisRecorder) Record(ctx context.Context, ev pool.Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Kind)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.totalKey(), field, 1)

	if r.bucket == "minute" {
		key := r.bucketKey(at)
		pipe.HIncrBy(ctx, key, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	}

	if ev.Wait > 0 {
		pipe.HIncrBy(ctx, r.waitKey(), field, ev.Wait.Microseconds())
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns cumulative counters per event kind.
func (r *RedisRecorder) Totals(ctx context.Context) (map[string]int64, error) {
	return r.readHash(ctx, r.totalKey())
}

// Minute returns the counters of the minute bucket containing at.
func (r *RedisRecorder) Minute(ctx context.Context, at time.Time) (map[string]int64, error) {
	return r.readHash(ctx, r.bucketKey(at))
}

// Ping checks the Redis connection.
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRecorder) readHash(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats: field %s of %s: %w", field, key, err)
		}
		out[field] = n
	}
	return out, nil
}
