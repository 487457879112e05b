package transaction

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/mysql"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

type fakeTx struct {
	adapter.Executor

	mu          sync.Mutex
	committed   bool
	rolledBack  bool
	commitErr   error
	rollbackErr error
	savepoints  []string
	calls       []string
}

func (t *fakeTx) record(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.record("commit")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = t.commitErr == nil
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.record("rollback")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolledBack = t.rollbackErr == nil
	return t.rollbackErr
}

func (t *fakeTx) Savepoint(ctx context.Context, name string) error {
	t.record("savepoint " + name)
	return nil
}

func (t *fakeTx) RollbackToSavepoint(ctx context.Context, name string) error {
	t.record("rollback to " + name)
	return nil
}

func (t *fakeTx) ReleaseSavepoint(ctx context.Context, name string) error {
	t.record("release " + name)
	return nil
}

func (t *fakeTx) wasRolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

type fakeAdapter struct {
	adapter.Adapter

	noTx     bool
	noNested bool
	beginErr error
	tx       *fakeTx
	lastOpts adapter.TxOptions
}

func (a *fakeAdapter) Engine() string                   { return "Fake" }
func (a *fakeAdapter) SupportsTransactions() bool       { return !a.noTx }
func (a *fakeAdapter) SupportsNestedTransactions() bool { return !a.noNested }

func (a *fakeAdapter) BeginTx(ctx context.Context, opts adapter.TxOptions) (adapter.Tx, error) {
	if a.beginErr != nil {
		return nil, a.beginErr
	}
	a.lastOpts = opts
	a.tx = &fakeTx{}
	return a.tx, nil
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(&Config{DefaultTimeout: time.Minute, MaxTimeout: time.Hour}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func okOp(v any) Operation {
	return func(ctx context.Context, exec adapter.Executor) (any, error) { return v, nil }
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{DefaultTimeout: time.Hour, MaxTimeout: time.Minute})
	assert.Error(t, err)
}

func TestBeginExecuteCommit(t *testing.T) {
	var finished []Info
	m := newTestManager(t, WithFinishHook(func(info Info) { finished = append(finished, info) }))
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{
		IsolationLevel:   adapter.Serializable,
		ReadOnly:         true,
		StatementTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, StatePending, info.State)
	assert.Equal(t, "primary", info.Connection)
	assert.Equal(t, adapter.TxOptions{IsolationLevel: adapter.Serializable, ReadOnly: true, StatementTimeout: time.Second}, a.lastOpts)
	assert.Len(t, m.Active(), 1)

	res, err := m.ExecuteInTransaction(ctx, info.ID, okOp("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", res)

	results, err := m.ExecuteBatchInTransaction(ctx, info.ID, []Operation{okOp(1), okOp(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, results)

	done, err := m.CommitTransaction(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, done.State)
	assert.Equal(t, 3, done.OperationsCount)
	assert.True(t, a.tx.committed)

	got, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, StateCommitted, got.State)
	assert.Empty(t, m.Active())
	require.Len(t, finished, 1)
	assert.Equal(t, StateCommitted, finished[0].State)

	stats := m.Stats()
	assert.Equal(t, Stats{Active: 0, Committed: 1}, stats)

	_, err = m.CommitTransaction(ctx, info.ID)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, dberrors.CodeTransaction, dberrors.CodeOf(err))
}

func TestExecuteFailureRollsBack(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.ExecuteInTransaction(ctx, info.ID, func(ctx context.Context, exec adapter.Executor) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, a.tx.wasRolledBack())

	got, _ := m.Get(info.ID)
	assert.Equal(t, StateRolledBack, got.State)

	_, err = m.ExecuteInTransaction(ctx, info.ID, okOp(nil))
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestExecuteFailureWithRollbackFailureIsError(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)
	a.tx.rollbackErr = errors.New("connection lost")

	boom := errors.New("boom")
	_, err = m.ExecuteInTransaction(ctx, info.ID, func(ctx context.Context, exec adapter.Executor) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := m.Get(info.ID)
	assert.Equal(t, StateError, got.State)
	assert.Equal(t, int64(1), m.Stats().Errored)
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)

	ran := 0
	boom := errors.New("boom")
	results, err := m.ExecuteBatchInTransaction(ctx, info.ID, []Operation{
		func(ctx context.Context, exec adapter.Executor) (any, error) { ran++; return "first", nil },
		func(ctx context.Context, exec adapter.Executor) (any, error) { ran++; return nil, boom },
		func(ctx context.Context, exec adapter.Executor) (any, error) { ran++; return "third", nil },
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []any{"first"}, results)
	assert.Equal(t, 2, ran)
	assert.True(t, a.tx.wasRolledBack())
}

func TestCommitFailureIsError(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)
	a.tx.commitErr = errors.New("serialization failure")

	got, err := m.CommitTransaction(ctx, info.ID)
	assert.Error(t, err)
	assert.Equal(t, StateError, got.State)
}

func TestRollbackTransaction(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)

	got, err := m.RollbackTransaction(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRolledBack, got.State)
	assert.Equal(t, int64(1), m.Stats().RolledBack)
}

func TestBeginRejectsUnsupportedAdapter(t *testing.T) {
	m := newTestManager(t)

	_, err := m.BeginTransaction(context.Background(), "rest", &fakeAdapter{noTx: true}, Options{})
	assert.Equal(t, dberrors.CodeUnsupported, dberrors.CodeOf(err))
	assert.Empty(t, m.Active())
}

func TestBeginPropagatesAdapterError(t *testing.T) {
	m := newTestManager(t)
	begin := dberrors.Query("Fake", adapter.OpBegin, errors.New("pool exhausted"))

	_, err := m.BeginTransaction(context.Background(), "primary", &fakeAdapter{beginErr: begin}, Options{})
	assert.Equal(t, dberrors.CodeQuery, dberrors.CodeOf(err))
}

func TestUnknownTransaction(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ExecuteInTransaction(context.Background(), "missing", okOp(nil))
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok := m.Get("missing")
	assert.False(t, ok)
}

func TestTimeoutForcesRollback(t *testing.T) {
	var mu sync.Mutex
	var finished []Info
	m := newTestManager(t, WithFinishHook(func(info Info) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, info)
	}))
	a := &fakeAdapter{}

	info, err := m.BeginTransaction(context.Background(), "primary", a, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := m.Get(info.ID)
		return got.State == StateRolledBack
	}, time.Second, 5*time.Millisecond)

	got, _ := m.Get(info.ID)
	assert.True(t, got.TimedOut)
	assert.True(t, a.tx.wasRolledBack())
	assert.Equal(t, int64(1), m.Stats().TimedOut)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finished) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = m.CommitTransaction(context.Background(), info.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestTimeoutClampedToMax(t *testing.T) {
	m, err := New(&Config{DefaultTimeout: time.Second, MaxTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer m.Close(context.Background())

	info, err := m.BeginTransaction(context.Background(), "primary", &fakeAdapter{}, Options{Timeout: time.Hour})
	require.NoError(t, err)
	assert.WithinDuration(t, info.StartedAt.Add(2*time.Second), info.Deadline, time.Millisecond)
}

func TestOperationsAreSerialized(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", &fakeAdapter{}, Options{})
	require.NoError(t, err)

	var inFlight, maxInFlight atomic.Int32
	op := func(ctx context.Context, exec adapter.Executor) (any, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ExecuteInTransaction(ctx, info.ID, op)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	got, _ := m.Get(info.ID)
	assert.Equal(t, 8, got.OperationsCount)
}

func TestSavepoints(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{}
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "primary", a, Options{})
	require.NoError(t, err)

	sp1, err := m.CreateSavepoint(ctx, info.ID, "before_items")
	require.NoError(t, err)
	sp2, err := m.CreateSavepoint(ctx, info.ID, "before_items")
	require.NoError(t, err)
	sp3, err := m.CreateSavepoint(ctx, info.ID, "tail")
	require.NoError(t, err)
	assert.Equal(t, []string{"sp_before_items_1", "sp_before_items_2", "sp_tail_3"}, []string{sp1, sp2, sp3})

	require.NoError(t, m.RollbackToSavepoint(ctx, info.ID, sp2))
	got, _ := m.Get(info.ID)
	assert.Equal(t, []string{sp1, sp2}, got.Savepoints)

	err = m.ReleaseSavepoint(ctx, info.ID, sp3)
	assert.ErrorIs(t, err, ErrSavepointNotFound)

	require.NoError(t, m.ReleaseSavepoint(ctx, info.ID, sp1))
	got, _ = m.Get(info.ID)
	assert.Empty(t, got.Savepoints)

	_, err = m.CreateSavepoint(ctx, info.ID, "bad name")
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))
	_, err = m.CreateSavepoint(ctx, info.ID, "a.b")
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err), "savepoint names take no schema prefix")

	assert.Equal(t, []string{
		"savepoint sp_before_items_1",
		"savepoint sp_before_items_2",
		"savepoint sp_tail_3",
		"rollback to sp_before_items_2",
		"release sp_before_items_1",
	}, a.tx.calls)
}

func TestSavepointRequiresNestedSupport(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	info, err := m.BeginTransaction(ctx, "docs", &fakeAdapter{noNested: true}, Options{})
	require.NoError(t, err)

	_, err = m.CreateSavepoint(ctx, info.ID, "x")
	assert.Equal(t, dberrors.CodeUnsupported, dberrors.CodeOf(err))
}

func TestCloseRollsBackPending(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	a1, a2 := &fakeAdapter{}, &fakeAdapter{}
	_, err = m.BeginTransaction(ctx, "one", a1, Options{})
	require.NoError(t, err)
	_, err = m.BeginTransaction(ctx, "two", a2, Options{})
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	assert.True(t, a1.tx.wasRolledBack())
	assert.True(t, a2.tx.wasRolledBack())
	assert.Equal(t, 0, m.Stats().Active)

	_, err = m.BeginTransaction(ctx, "one", a1, Options{})
	assert.ErrorIs(t, err, ErrManagerClosed)
	require.NoError(t, m.Close(ctx))
}

func TestWithMySQLAdapter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	a, err := mysql.NewWithDB(adapter.ConnectionConfig{
		ID:   "mysql-tx",
		Pool: pool.Config{MinSize: pool.Int(1), MaxSize: 1, AcquireTimeout: 200 * time.Millisecond},
	}, db, adapter.Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	m := newTestManager(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `orders` WHERE (`status` = ?)")).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET `status` = ? WHERE (`id` = ?)")).
		WithArgs("closed", 1).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	info, err := m.BeginTransaction(ctx, "mysql-tx", a, Options{IsolationLevel: adapter.ReadCommitted})
	require.NoError(t, err)

	n, err := m.ExecuteInTransaction(ctx, info.ID, func(ctx context.Context, exec adapter.Executor) (any, error) {
		return exec.Count(ctx, "orders", adapter.Conditions{"status": "open"})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = m.ExecuteInTransaction(ctx, info.ID, func(ctx context.Context, exec adapter.Executor) (any, error) {
		return exec.Update(ctx, "orders", adapter.Conditions{"id": 1}, adapter.Record{"status": "closed"})
	})
	assert.Equal(t, dberrors.CodeQuery, dberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "MySQL update error: lock wait timeout")

	got, _ := m.Get(info.ID)
	assert.Equal(t, StateRolledBack, got.State)
	assert.Equal(t, 0, a.Stats().ActiveConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
}
