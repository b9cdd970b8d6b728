package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn - соединение-заглушка, считающее вызовы.
type fakeConn struct {
	id int

	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
	closed    bool
	queries   []string

	beginErr    error
	commitErr   error
	rollbackErr error
	pingErr     error

	// holders считает одновременных владельцев соединения
	holders atomic.Int32
}

func (c *fakeConn) Execute(_ context.Context, query string, _ map[string]any) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	return &Result{RowsAffected: 1}, nil
}

func (c *fakeConn) Begin(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	return c.beginErr
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return c.commitErr
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.rollbackErr
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) counts() (begins, commits, rollbacks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begins, c.commits, c.rollbacks
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory открывает fakeConn и позволяет внедрять ошибки.
type fakeFactory struct {
	mu        sync.Mutex
	conns     []*fakeConn
	opened    int
	closed    int
	failNext  int
	openErr   error
	openDelay time.Duration
	configure func(*fakeConn)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{openErr: errors.New("engine unavailable")}
}

func (f *fakeFactory) Open(ctx context.Context) (Conn, error) {
	if f.openDelay > 0 {
		select {
		case <-time.After(f.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, f.openErr
	}
	f.opened++
	c := &fakeConn{id: f.opened}
	if f.configure != nil {
		f.configure(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) Close(ctx context.Context, conn Conn) error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return conn.Close(ctx)
}

func (f *fakeFactory) failTimes(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *fakeFactory) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeFactory) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingRecorder запоминает события пула.
type recordingRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// slowRecorder задерживает запись событий одного вида.
type slowRecorder struct {
	kind  EventKind
	delay time.Duration
	done  atomic.Int32
}

func (r *slowRecorder) Record(ctx context.Context, ev Event) error {
	if ev.Kind != r.kind {
		return nil
	}
	defer r.done.Add(1)
	select {
	case <-time.After(r.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *slowRecorder) seen() int { return int(r.done.Load()) }

func newTestPool(t *testing.T, f Factory, max, min int, timeout time.Duration) *Pool {
	t.Helper()

	p, err := New(context.Background(), f, Options{
		MaxConns:       max,
		MinConns:       min,
		AcquireTimeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Drain(context.Background())
	})
	return p
}

func rawOf(pc *PooledConn) *fakeConn {
	return pc.Raw().(*fakeConn)
}

// waitForWaiters ждёт, пока в очереди окажется n запросов.
func waitForWaiters(t *testing.T, p *Pool, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return p.Stats().Waiting == n
	}, time.Second, time.Millisecond, "очередь ожидания не достигла нужной длины")
}

type checkoutResult struct {
	conn *PooledConn
	err  error
}

func checkoutAsync(ctx context.Context, p *Pool) <-chan checkoutResult {
	ch := make(chan checkoutResult, 1)
	go func() {
		pc, err := p.Checkout(ctx)
		ch <- checkoutResult{conn: pc, err: err}
	}()
	return ch
}
