package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"graphpool/internal/platform/logger"
	"graphpool/internal/platform/pool"
)

// ProbeTarget - то, что проверяет HealthProbe. Реализуется graphdb.Container.
type ProbeTarget interface {
	Health(ctx context.Context) error
	Stats() pool.Stats
}

// ProbeJobName - имя задачи проверки здоровья в планировщике.
const ProbeJobName = "pool-health"

// ProbeOptions - параметры проверки.
type ProbeOptions struct {
	// Schedule - cron-расписание (по умолчанию "@every 30s")
	Schedule string
	// Timeout одной проверки (по умолчанию 5s)
	Timeout time.Duration
	// FailureThreshold - после скольких неудач подряд вызывается OnUnhealthy (по умолчанию 3)
	FailureThreshold int
	// OnUnhealthy вызывается один раз при достижении порога
	OnUnhealthy func(err error)
	// OnRecovered вызывается при первой удачной проверке после порога
	OnRecovered func()
}

func (o ProbeOptions) withDefaults() ProbeOptions {
	if o.Schedule == "" {
		o.Schedule = "@every 30s"
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	return o
}

// HealthProbe периодически выдаёт соединение из пула, пингует его и
// пишет снимок статистики в лог.
type HealthProbe struct {
	target ProbeTarget
	opts   ProbeOptions
	sched  *Scheduler

	mu       sync.Mutex
	failures int
	lastErr  error
	lastRun  time.Time
}

// NewHealthProbe создаёт проверку для target.
func NewHealthProbe(s *Scheduler, target ProbeTarget, opts ProbeOptions) *HealthProbe {
	return &HealthProbe{target: target, opts: opts.withDefaults(), sched: s}
}

// Register ставит проверку в расписание планировщика.
func (p *HealthProbe) Register() (cron.EntryID, error) {
	return p.sched.Add(ProbeJobName, p.opts.Schedule, p.Run, JobOptions{
		Timeout:       p.opts.Timeout,
		OverlapPolicy: SkipIfRunning,
	})
}

// Run выполняет одну проверку.
func (p *HealthProbe) Run(ctx context.Context) error {
	err := p.target.Health(ctx)
	stats := p.target.Stats()

	log := p.sched.log.With(
		"state", stats.State.String(),
		"idle", stats.Idle,
		"in_use", stats.InUse,
		"waiting", stats.Waiting,
		"utilization", stats.Utilization(),
		"timeouts", stats.TimeoutCount,
	)
	if !pool.IsHealthy(stats) {
		log.Warn("pool saturated")
	}

	p.mu.Lock()
	p.lastRun = time.Now()
	p.lastErr = err

	if err != nil {
		p.failures++
		failures := p.failures
		p.mu.Unlock()

		log.Warn("pool health check failed", "failures", failures, logger.Err(err))
		if failures == p.opts.FailureThreshold {
			log.Error("pool unhealthy", "failures", failures)
			if p.opts.OnUnhealthy != nil {
				p.opts.OnUnhealthy(err)
			}
		}
		return err
	}

	recovered := p.failures >= p.opts.FailureThreshold
	p.failures = 0
	p.mu.Unlock()

	if recovered {
		log.Info("pool recovered")
		if p.opts.OnRecovered != nil {
			p.opts.OnRecovered()
		}
		return nil
	}
	log.Debug("pool healthy")
	return nil
}

// Healthy сообщает результат последней проверки. До первой проверки - true.
func (p *HealthProbe) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr == nil
}

// ConsecutiveFailures возвращает число неудач подряд.
func (p *HealthProbe) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// LastRun возвращает время последней проверки.
func (p *HealthProbe) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}
