// Package stats records pool lifecycle events (pool.EventRecorder).
//
// RedisRecorder keeps cumulative counters plus per-minute buckets in Redis
// so several instances can share one view. MemoryRecorder keeps the same
// totals in process and is meant for tests and single-node setups.
//
// Recording is best effort: the pool logs a failed Record and carries on.
package stats
