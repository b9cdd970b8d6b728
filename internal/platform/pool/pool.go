package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"graphpool/pkg/retry"
)

// State - стадия жизненного цикла пула. Переходы только вперёд:
// Open -> Draining -> Closed.
type State int

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

// String возвращает строковое представление состояния.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText сериализует состояние строкой (для JSON статистики).
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText разбирает строку, полученную от MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateOpen, StateDraining, StateClosed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("%w: unknown pool state %q", ErrInvalidOptions, text)
}

// grant - результат ожидания. conn == nil и err == nil означает,
// что ожидающему передан резерв ёмкости и соединение он открывает сам.
type grant struct {
	conn *PooledConn
	err  error
}

// waiter - заблокированный Checkout.
type waiter struct {
	ch         chan grant // буфер 1: отправка под мьютексом никогда не блокируется
	elem       *list.Element
	enqueuedAt time.Time
}

// Pool - ограниченный пул соединений с очередью ожидания FIFO.
type Pool struct {
	factory  Factory
	opts     Options
	log      *slog.Logger
	recorder EventRecorder

	mu      sync.Mutex
	state   State
	idle    []*PooledConn // LIFO: последним вернули - первым выдали
	inUse   int           // выданные соединения и резервы под открываемые
	waiters list.List     // *waiter в порядке прихода
	drained chan struct{}

	stats counters
}

type counters struct {
	opened       atomic.Int64
	openFailures atomic.Int64
	closed       atomic.Int64
	destroyed    atomic.Int64
	acquired     atomic.Int64
	waited       atomic.Int64
	waitNanos    atomic.Int64
	timeouts     atomic.Int64
	cancels      atomic.Int64
}

// New создаёт пул и сразу открывает MinConns соединений.
// Если хотя бы одно не открылось, уже открытые закрываются.
func New(ctx context.Context, factory Factory, opts Options) (*Pool, error) {
	if factory == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("factory is nil"))
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		factory:  factory,
		opts:     opts,
		log:      log.With("component", "pool"),
		recorder: opts.Recorder,
		drained:  make(chan struct{}),
	}

	for i := 0; i < opts.MinConns; i++ {
		raw, err := p.openRaw(ctx)
		if err != nil {
			for _, pc := range p.idle {
				p.closeConn(ctx, pc, EventClose)
			}
			return nil, connectionError(err)
		}
		pc := newPooledConn(p, raw)
		p.idle = append(p.idle, pc)
		p.record(ctx, EventOpen, pc.id, 0)
	}

	p.log.Info("pool opened",
		"max_conns", opts.MaxConns,
		"min_conns", opts.MinConns,
		"acquire_timeout", opts.AcquireTimeout)
	return p, nil
}

// Options возвращает параметры, с которыми создан пул.
func (p *Pool) Options() Options { return p.opts }

// Checkout выдаёт соединение.
//
// Порядок: свободное соединение из idle; иначе, если есть ёмкость,
// новое соединение от фабрики; иначе ожидание в очереди до передачи
// соединения, таймаута, отмены контекста или Drain.
func (p *Pool) Checkout(ctx context.Context) (*PooledConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceledError(err)
	}

	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.inUse++
		p.markAcquiredLocked(pc)
		p.mu.Unlock()

		p.acquired(ctx, pc, 0)
		return pc, nil
	}

	if p.inUse+len(p.idle) < p.opts.MaxConns {
		// резервируем слот, сама фабрика вызывается вне мьютекса
		p.inUse++
		p.mu.Unlock()
		return p.openReserved(ctx, 0)
	}

	w := &waiter{ch: make(chan grant, 1), enqueuedAt: time.Now()}
	w.elem = p.waiters.PushBack(w)
	p.mu.Unlock()

	p.stats.waited.Add(1)
	// запись события идёт в фоне: медленный рекордер не должен
	// съедать AcquireTimeout и задерживать реакцию на отмену
	go p.record(ctx, EventWait, uuid.Nil, 0)
	return p.wait(ctx, w)
}

func (p *Pool) wait(ctx context.Context, w *waiter) (*PooledConn, error) {
	// таймаут отсчитывается от постановки в очередь
	timer := time.NewTimer(max(p.opts.AcquireTimeout-time.Since(w.enqueuedAt), 0))
	defer timer.Stop()

	select {
	case g := <-w.ch:
		return p.fulfil(ctx, w, g)
	case <-timer.C:
		return p.abandon(ctx, w, &TimeoutError{Duration: p.opts.AcquireTimeout}, EventTimeout)
	case <-ctx.Done():
		return p.abandon(ctx, w, canceledError(ctx.Err()), EventCancel)
	}
}

func (p *Pool) fulfil(ctx context.Context, w *waiter, g grant) (*PooledConn, error) {
	waited := time.Since(w.enqueuedAt)
	p.stats.waitNanos.Add(int64(waited))

	switch {
	case g.err != nil:
		return nil, g.err
	case g.conn != nil:
		p.acquired(ctx, g.conn, waited)
		return g.conn, nil
	default:
		return p.openReserved(ctx, waited)
	}
}

// abandon снимает ожидающего с очереди по таймауту или отмене.
// Если соединение или резерв уже были переданы, они возвращаются в оборот.
func (p *Pool) abandon(ctx context.Context, w *waiter, cause error, kind EventKind) (*PooledConn, error) {
	waited := time.Since(w.enqueuedAt)
	p.stats.waitNanos.Add(int64(waited))

	p.mu.Lock()
	if w.elem != nil {
		p.waiters.Remove(w.elem)
		w.elem = nil
		p.mu.Unlock()

		p.countAbandon(kind)
		p.record(ctx, kind, uuid.Nil, waited)
		p.log.Debug("checkout abandoned", "reason", string(kind), "wait", waited)
		return nil, cause
	}

	// уже разрешён: grant лежит в буфере канала
	g := <-w.ch
	var toClose *PooledConn
	switch {
	case g.err != nil:
		cause = g.err
	case g.conn != nil:
		toClose = p.putLocked(g.conn)
	default:
		p.releaseSlotLocked()
	}
	p.mu.Unlock()

	if toClose != nil {
		p.closeConn(ctx, toClose, EventClose)
	}
	if g.err == nil {
		p.countAbandon(kind)
		p.record(ctx, kind, uuid.Nil, waited)
	}
	return nil, cause
}

func (p *Pool) countAbandon(kind EventKind) {
	if kind == EventTimeout {
		p.stats.timeouts.Add(1)
	} else {
		p.stats.cancels.Add(1)
	}
}

// openReserved открывает соединение под уже занятый слот.
func (p *Pool) openReserved(ctx context.Context, waited time.Duration) (*PooledConn, error) {
	raw, err := p.openRaw(ctx)
	if err != nil {
		p.mu.Lock()
		p.releaseSlotLocked()
		p.mu.Unlock()

		p.stats.openFailures.Add(1)
		p.record(ctx, EventOpenFailed, uuid.Nil, waited)
		p.log.Warn("failed to open connection", "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, canceledError(ctxErr)
		}
		return nil, connectionError(err)
	}

	pc := newPooledConn(p, raw)
	p.record(ctx, EventOpen, pc.id, 0)

	p.mu.Lock()
	if p.state != StateOpen {
		p.releaseSlotLocked()
		p.mu.Unlock()
		p.closeConn(ctx, pc, EventClose)
		return nil, ErrPoolClosed
	}
	p.markAcquiredLocked(pc)
	p.mu.Unlock()

	p.acquired(ctx, pc, waited)
	return pc, nil
}

func (p *Pool) openRaw(ctx context.Context) (Conn, error) {
	if p.opts.OpenRetry == nil {
		return p.factory.Open(ctx)
	}

	var raw Conn
	cfg := *p.opts.OpenRetry
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		p.log.Debug("retrying connection open", "attempt", attempt, "error", err, "next_delay", next)
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		c, err := p.factory.Open(ctx)
		if err != nil {
			return err
		}
		raw = c
		return nil
	})
	return raw, err
}

func (p *Pool) acquired(ctx context.Context, pc *PooledConn, waited time.Duration) {
	p.stats.acquired.Add(1)
	p.record(ctx, EventCheckout, pc.id, waited)
	p.log.Debug("connection checked out", "conn_id", pc.id, "wait", waited, "uses", pc.Uses())
}

func (p *Pool) markAcquiredLocked(pc *PooledConn) {
	pc.released.Store(false)
	pc.uses.Add(1)
}

// Checkin возвращает соединение в пул. Если есть ожидающие, соединение
// передаётся первому из них напрямую, минуя idle. В Draining соединение
// закрывается.
func (p *Pool) Checkin(pc *PooledConn) error {
	if pc == nil || pc.pool != p {
		return ErrForeignConn
	}

	p.mu.Lock()
	if pc.released.Load() {
		p.mu.Unlock()
		return ErrConnReleased
	}
	toClose := p.putLocked(pc)
	p.mu.Unlock()

	ctx := context.Background()
	p.record(ctx, EventCheckin, pc.id, 0)
	if toClose != nil {
		return p.closeConn(ctx, toClose, EventClose)
	}
	return nil
}

// Destroy освобождает слот соединения, которое нельзя переиспользовать
// (например, после неудачного отката), и закрывает его.
func (p *Pool) Destroy(pc *PooledConn) error {
	if pc == nil || pc.pool != p {
		return ErrForeignConn
	}

	p.mu.Lock()
	if pc.released.Load() {
		p.mu.Unlock()
		return ErrConnReleased
	}
	pc.released.Store(true)
	p.releaseSlotLocked()
	p.mu.Unlock()

	p.stats.destroyed.Add(1)
	err := p.closeConn(context.Background(), pc, EventDestroy)
	p.log.Debug("connection destroyed", "conn_id", pc.id)
	p.replenish()
	return err
}

// putLocked возвращает выданное соединение. Возвращает соединение,
// которое вызывающий должен закрыть вне мьютекса.
func (p *Pool) putLocked(pc *PooledConn) *PooledConn {
	pc.released.Store(true)

	if w := p.popWaiterLocked(); w != nil {
		p.markAcquiredLocked(pc)
		w.ch <- grant{conn: pc}
		return nil
	}

	p.inUse--
	if p.state == StateOpen {
		p.idle = append(p.idle, pc)
		return nil
	}
	p.maybeClosedLocked()
	return pc
}

// releaseSlotLocked освобождает один слот ёмкости: передаёт его первому
// ожидающему как резерв либо уменьшает inUse.
func (p *Pool) releaseSlotLocked() {
	if w := p.popWaiterLocked(); w != nil {
		w.ch <- grant{}
		return
	}
	p.inUse--
	p.maybeClosedLocked()
}

func (p *Pool) popWaiterLocked() *waiter {
	front := p.waiters.Front()
	if front == nil {
		return nil
	}
	w := p.waiters.Remove(front).(*waiter)
	w.elem = nil
	return w
}

func (p *Pool) maybeClosedLocked() {
	if p.state == StateDraining && p.inUse == 0 {
		p.state = StateClosed
		close(p.drained)
	}
}

// replenish восстанавливает минимум соединений после Destroy.
// Открытие идёт в фоне под зарезервированный слот.
func (p *Pool) replenish() {
	p.mu.Lock()
	if p.state != StateOpen || p.inUse+len(p.idle) >= p.opts.MinConns {
		p.mu.Unlock()
		return
	}
	p.inUse++
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.AcquireTimeout)
		defer cancel()

		raw, err := p.openRaw(ctx)
		if err != nil {
			p.mu.Lock()
			p.releaseSlotLocked()
			p.mu.Unlock()
			p.stats.openFailures.Add(1)
			p.log.Warn("failed to replenish connection", "error", err)
			return
		}

		pc := newPooledConn(p, raw)
		p.record(ctx, EventOpen, pc.id, 0)

		p.mu.Lock()
		pc.released.Store(false)
		toClose := p.putLocked(pc)
		p.mu.Unlock()
		if toClose != nil {
			p.closeConn(ctx, toClose, EventClose)
		}
	}()
}

// Drain переводит пул в Draining: отклоняет всех ожидающих с
// ErrPoolExhausted и закрывает свободные соединения. Выданные соединения
// закрываются при возврате; когда их не остаётся, пул становится Closed
// и закрывается канал Drained. Повторный вызов ничего не делает.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDraining

	rejected := 0
	for w := p.popWaiterLocked(); w != nil; w = p.popWaiterLocked() {
		w.ch <- grant{err: ErrPoolExhausted}
		rejected++
	}

	idle := p.idle
	p.idle = nil
	inUse := p.inUse
	p.maybeClosedLocked()
	p.mu.Unlock()

	p.log.Info("pool draining", "idle", len(idle), "in_use", inUse, "rejected_waiters", rejected)
	p.record(ctx, EventDrain, uuid.Nil, 0)

	var errs []error
	for _, pc := range idle {
		if err := p.closeConn(ctx, pc, EventClose); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drained закрывается, когда пул перешёл в Closed.
func (p *Pool) Drained() <-chan struct{} { return p.drained }

// State возвращает текущее состояние пула.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) closeConn(ctx context.Context, pc *PooledConn, kind EventKind) error {
	err := p.factory.Close(context.WithoutCancel(ctx), pc.raw)
	p.stats.closed.Add(1)
	p.record(ctx, kind, pc.id, 0)
	if err != nil {
		p.log.Warn("failed to close connection", "conn_id", pc.id, "error", err)
	}
	return err
}
