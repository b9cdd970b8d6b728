package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphpool/internal/shared"
)

type transitions struct {
	mu     sync.Mutex
	states []TxState
}

func (tr *transitions) record(s TxState) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, s)
}

func (tr *transitions) get() []TxState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]TxState(nil), tr.states...)
}

func newTestRunner(t *testing.T, f *fakeFactory, max int) (*Pool, *TxRunner, *transitions) {
	t.Helper()

	p := newTestPool(t, f, max, 0, time.Second)
	tr := &transitions{}
	runner := NewTxRunner(p)
	runner.OnTransition = tr.record
	return p, runner, tr
}

func TestWithinTx_Commit(t *testing.T) {
	f := newFakeFactory()
	p, runner, tr := newTestRunner(t, f, 1)

	var used *PooledConn
	err := runner.WithinTx(context.Background(), func(ctx context.Context, conn *PooledConn) error {
		used = conn
		fromCtx, ok := ConnFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, conn, fromCtx)

		_, err := conn.Execute(ctx, "CREATE (n:Node)", nil)
		return err
	})
	require.NoError(t, err)

	begins, commits, rollbacks := rawOf(used).counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, rollbacks)

	assert.Equal(t, []TxState{TxAcquiring, TxActive, TxCommitting, TxCommitted, TxReleased}, tr.get())

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

func TestWithinTx_WorkErrorRollsBack(t *testing.T) {
	f := newFakeFactory()
	p, runner, tr := newTestRunner(t, f, 1)
	workErr := errors.New("constraint violated")

	var used *PooledConn
	err := runner.WithinTx(context.Background(), func(_ context.Context, conn *PooledConn) error {
		used = conn
		return workErr
	})

	assert.Same(t, workErr, err, "ошибка работы возвращается без обёртки")

	_, commits, rollbacks := rawOf(used).counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, []TxState{TxAcquiring, TxActive, TxRollingBack, TxRolledBack, TxReleased}, tr.get())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestWithinTx_RollbackFailureDestroysConn(t *testing.T) {
	f := newFakeFactory()
	rbErr := errors.New("disk I/O error")
	f.configure = func(c *fakeConn) { c.rollbackErr = rbErr }
	p, runner, _ := newTestRunner(t, f, 1)
	workErr := errors.New("boom")

	var used *PooledConn
	err := runner.WithinTx(context.Background(), func(_ context.Context, conn *PooledConn) error {
		used = conn
		return workErr
	})

	var rollbackErr *RollbackError
	require.ErrorAs(t, err, &rollbackErr)
	assert.Same(t, rbErr, rollbackErr.RollbackErr)
	assert.ErrorIs(t, err, workErr)
	assert.NotErrorIs(t, err, rbErr, "ошибка отката не заменяет основную")
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.True(t, rawOf(used).isClosed())
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Destroyed)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.Idle)
}

func TestWithinTx_CommitFailure(t *testing.T) {
	f := newFakeFactory()
	commitErr := errors.New("serialization failure")
	f.configure = func(c *fakeConn) { c.commitErr = commitErr }
	p, runner, tr := newTestRunner(t, f, 1)

	var used *PooledConn
	err := runner.WithinTx(context.Background(), func(_ context.Context, conn *PooledConn) error {
		used = conn
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, commitErr)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Same(t, commitErr, txErr.Cause)
	assert.NoError(t, txErr.RollbackErr)

	_, commits, rollbacks := rawOf(used).counts()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, []TxState{TxAcquiring, TxActive, TxCommitting, TxRollingBack, TxRolledBack, TxReleased}, tr.get())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestWithinTx_BeginFailure(t *testing.T) {
	f := newFakeFactory()
	beginErr := errors.New("database is locked")
	f.configure = func(c *fakeConn) { c.beginErr = beginErr }
	p, runner, _ := newTestRunner(t, f, 1)

	called := false
	err := runner.WithinTx(context.Background(), func(context.Context, *PooledConn) error {
		called = true
		return nil
	})

	assert.Same(t, beginErr, err)
	assert.False(t, called)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Destroyed)
	assert.Equal(t, 0, stats.InUse)
}

func TestWithinTx_PanicRollsBackAndRepanics(t *testing.T) {
	f := newFakeFactory()
	p, runner, tr := newTestRunner(t, f, 1)

	var used *PooledConn
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = runner.WithinTx(context.Background(), func(_ context.Context, conn *PooledConn) error {
			used = conn
			panic("kaboom")
		})
	})

	_, commits, rollbacks := rawOf(used).counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, TxReleased, tr.get()[len(tr.get())-1])
	assert.Equal(t, 1, p.Stats().Idle)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestWithinTx_CanceledContextRollsBack(t *testing.T) {
	f := newFakeFactory()
	p, runner, _ := newTestRunner(t, f, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var used *PooledConn
	err := runner.WithinTx(ctx, func(_ context.Context, conn *PooledConn) error {
		used = conn
		cancel()
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, shared.KindCanceled, shared.KindOf(err))

	_, commits, rollbacks := rawOf(used).counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks, "откат выполняется на контексте без отмены")
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestWithinTx_NestedRejected(t *testing.T) {
	f := newFakeFactory()
	_, runner, _ := newTestRunner(t, f, 2)

	var nestedErr error
	err := runner.WithinTx(context.Background(), func(ctx context.Context, _ *PooledConn) error {
		nestedErr = runner.WithinTx(ctx, func(context.Context, *PooledConn) error { return nil })
		return nil
	})

	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, ErrNestedTx)
	assert.Equal(t, 1, f.openedCount(), "вложенная транзакция не должна брать соединение")
}

func TestWithinTx_CheckoutFailurePropagates(t *testing.T) {
	f := newFakeFactory()
	p, runner, tr := newTestRunner(t, f, 1)
	require.NoError(t, p.Drain(context.Background()))

	err := runner.WithinTx(context.Background(), func(context.Context, *PooledConn) error {
		t.Error("работа не должна выполняться")
		return nil
	})

	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, []TxState{TxAcquiring}, tr.get())
}

// После множества удачных и неудачных транзакций на пуле из одного
// соединения очередной Checkout проходит без ожидания.
func TestWithinTx_SingleConnPoolNeverLeaks(t *testing.T) {
	f := newFakeFactory()
	p, runner, _ := newTestRunner(t, f, 1)
	ctx := context.Background()
	workErr := errors.New("fail")

	for i := 0; i < 50; i++ {
		i := i
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.New("recovered")
				}
			}()
			return runner.WithinTx(ctx, func(context.Context, *PooledConn) error {
				switch i % 3 {
				case 0:
					return nil
				case 1:
					return workErr
				default:
					panic("work panic")
				}
			})
		}()
		if i%3 == 0 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
		}
	}

	start := time.Now()
	pc, err := p.Checkout(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	require.NoError(t, p.Checkin(pc))
	assert.Equal(t, 1, f.openedCount())
}
