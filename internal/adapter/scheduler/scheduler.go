package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc - функция фоновой задачи.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет, что делать, если предыдущий запуск ещё идёт.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельные запуски.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает запуск, пока идёт предыдущий.
	SkipIfRunning
	// DelayIfRunning откладывает запуск до завершения предыдущего.
	DelayIfRunning
)

// ErrDuplicateJob возвращается при повторной регистрации имени задачи.
var ErrDuplicateJob = errors.New("scheduler: job already registered")

// JobOptions - параметры задачи.
type JobOptions struct {
	// Timeout ограничивает один запуск (0 = без ограничения)
	Timeout       time.Duration
	OverlapPolicy OverlapPolicy
}

// JobHooks - необязательные хуки наблюдаемости.
type JobHooks struct {
	OnJobStart  func(name string)
	OnJobFinish func(name string, duration time.Duration, err error)
}

// Config - параметры планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// cronLogger пробрасывает логи cron в slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Scheduler запускает именованные задачи по cron-расписанию.
// Живёт до отмены родительского контекста или вызова Stop.
type Scheduler struct {
	cron  *cron.Cron
	log   *slog.Logger
	clog  cron.Logger
	hooks JobHooks

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New создаёт планировщик, привязанный к parent.
func New(parent context.Context, cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")
	clog := cronLogger{log: log}

	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(clog)),
		log:     log,
		clog:    clog,
		hooks:   cfg.JobHooks,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]cron.EntryID),
		stopped: make(chan struct{}),
	}
}

// Add регистрирует задачу. Примеры расписаний:
//   - "@every 30s"
//   - "0 */5 * * * *" - каждые 5 минут (с секундами)
//
// Интервалы @every короче секунды округляются cron до секунды.
func (s *Scheduler) Add(name, schedule string, job JobFunc, opts JobOptions) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	var chain cron.Chain
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(s.clog))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(s.clog))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(schedule, chain.Then(cron.FuncJob(func() {
		s.run(name, job, opts)
	})))
	if err != nil {
		return 0, fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.jobs[name] = id

	s.log.Info("job registered", "name", name, "schedule", schedule, "id", id)
	return id, nil
}

// Remove снимает задачу с расписания. Идущий запуск не прерывается.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	s.log.Info("job removed", "name", name)
	return true
}

// Jobs возвращает имена зарегистрированных задач по алфавиту.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start запускает cron. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.cron.Start()
		s.log.Info("scheduler started", "jobs", len(s.Jobs()))

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждёт завершения идущих задач или ctx.
// Контекст задач отменяется сразу. Повторный вызов безопасен.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	go s.stopOnce.Do(s.stop)

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// Running сообщает, что планировщик не остановлен.
func (s *Scheduler) Running() bool {
	return s.ctx.Err() == nil
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	close(s.stopped)
}

func (s *Scheduler) run(name string, job JobFunc, opts JobOptions) {
	if s.ctx.Err() != nil {
		return
	}
	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	ctx := s.ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(ctx, name, job)
	duration := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(name, duration, err)
	}
	if err != nil {
		s.log.Warn("job failed", "name", name, "duration", duration, "error", err)
		return
	}
	s.log.Debug("job completed", "name", name, "duration", duration)
}

// safeRun превращает панику задачи в ошибку.
func (s *Scheduler) safeRun(ctx context.Context, name string, job JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "name", name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}
