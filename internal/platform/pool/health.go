package pool

import (
	"context"
	"fmt"
	"time"
)

// Stats содержит снимок состояния пула.
type Stats struct {
	State    State `json:"state"`
	MaxConns int   `json:"max_conns"`
	MinConns int   `json:"min_conns"`
	Idle     int   `json:"idle"`
	InUse    int   `json:"in_use"`
	Waiting  int   `json:"waiting"`

	Opened        int64         `json:"opened"`
	OpenFailures  int64         `json:"open_failures"`
	Closed        int64         `json:"closed"`
	Destroyed     int64         `json:"destroyed"`
	AcquireCount  int64         `json:"acquire_count"`
	WaitCount     int64         `json:"wait_count"`
	WaitDuration  time.Duration `json:"wait_duration_ns"`
	TimeoutCount  int64         `json:"timeout_count"`
	CanceledCount int64         `json:"canceled_count"`
}

// Total возвращает количество соединений, учтённых в ёмкости пула.
func (s Stats) Total() int { return s.Idle + s.InUse }

// Utilization возвращает долю занятых слотов в процентах.
func (s Stats) Utilization() float64 {
	if s.MaxConns == 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxConns) * 100
}

// Stats возвращает текущую статистику пула.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		State:    p.state,
		MaxConns: p.opts.MaxConns,
		MinConns: p.opts.MinConns,
		Idle:     len(p.idle),
		InUse:    p.inUse,
		Waiting:  p.waiters.Len(),
	}
	p.mu.Unlock()

	s.Opened = p.stats.opened.Load()
	s.OpenFailures = p.stats.openFailures.Load()
	s.Closed = p.stats.closed.Load()
	s.Destroyed = p.stats.destroyed.Load()
	s.AcquireCount = p.stats.acquired.Load()
	s.WaitCount = p.stats.waited.Load()
	s.WaitDuration = time.Duration(p.stats.waitNanos.Load())
	s.TimeoutCount = p.stats.timeouts.Load()
	s.CanceledCount = p.stats.cancels.Load()
	return s
}

// IsHealthy проверяет, что пул открыт и не упёрся в потолок с очередью.
func IsHealthy(stats Stats) bool {
	if stats.State != StateOpen {
		return false
	}
	saturated := stats.Total() >= stats.MaxConns && stats.Idle == 0
	return !(saturated && stats.Waiting > 0)
}

// HealthCheck выдаёт соединение, проверяет его через Ping (если движок
// поддерживает) и возвращает в пул. Неживое соединение уничтожается.
func HealthCheck(ctx context.Context, p *Pool) error {
	pc, err := p.Checkout(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if err := pc.Ping(ctx); err != nil {
		if derr := p.Destroy(pc); derr != nil {
			p.log.Warn("failed to destroy unhealthy connection", "conn_id", pc.id, "error", derr)
		}
		return fmt.Errorf("health check: ping: %w", err)
	}
	return p.Checkin(pc)
}
