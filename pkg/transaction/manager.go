// Package transaction 管理跨请求的事务生命周期。
//
// 每个事务独占一个池连接，由 id 标识；对同一事务的操作按到达顺序串行执行。
// 超时计时器到期时，仍处于 PENDING 的事务会被强制回滚，但不会打断正在执行的操作。
package transaction

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/xdooria-dal/pkg/cache/fifo"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

type savepoint struct {
	id   string
	name string
}

type transaction struct {
	mu sync.Mutex

	id         string
	connection string
	adapter    adapter.Adapter
	tx         adapter.Tx
	opts       Options

	state      State
	startedAt  time.Time
	endedAt    time.Time
	deadline   time.Time
	ops        int
	savepoints []savepoint
	spSeq      int
	timer      *time.Timer
	timedOut   bool
}

// info 调用方需持有 t.mu
func (t *transaction) info() Info {
	sps := make([]string, len(t.savepoints))
	for i, sp := range t.savepoints {
		sps[i] = sp.id
	}
	return Info{
		ID:              t.id,
		Connection:      t.connection,
		State:           t.state,
		IsolationLevel:  t.opts.IsolationLevel,
		ReadOnly:        t.opts.ReadOnly,
		StartedAt:       t.startedAt,
		EndedAt:         t.endedAt,
		Deadline:        t.deadline,
		OperationsCount: t.ops,
		Savepoints:      sps,
		TimedOut:        t.timedOut,
	}
}

// Manager 事务管理器
type Manager struct {
	cfg    *Config
	logger logger.Logger
	now    func() time.Time
	hooks  []FinishHook

	mu      sync.RWMutex
	active  map[string]*transaction
	history *fifo.Cache[string, Info]
	closed  bool

	committed  atomic.Int64
	rolledBack atomic.Int64
	errored    atomic.Int64
	timedOut   atomic.Int64
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFinishHook 追加事务结束回调
func WithFinishHook(h FinishHook) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, h)
	}
}

// New 创建事务管理器
func New(cfg *Config, opts ...Option) (*Manager, error) {
	merged, err := mergeConfig(cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    merged,
		logger: logger.Noop(),
		now:    time.Now,
		active: make(map[string]*transaction),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("transaction")
	if merged.HistorySize > 0 {
		m.history = fifo.New[string, Info](fifo.Config{MaxSize: merged.HistorySize})
	}
	return m, nil
}

// BeginTransaction 在 a 上开启事务并登记，connection 为连接 id
func (m *Manager) BeginTransaction(ctx context.Context, connection string, a adapter.Adapter, opts Options) (Info, error) {
	if m.isClosed() {
		return Info{}, dberrors.Transaction(ErrManagerClosed, "transaction manager is closed")
	}
	if !a.SupportsTransactions() {
		return Info{}, dberrors.Unsupported(a.Engine(), adapter.OpBegin)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	if timeout > m.cfg.MaxTimeout {
		m.logger.WarnContext(ctx, "transaction timeout clamped", "requested", timeout, "max", m.cfg.MaxTimeout)
		timeout = m.cfg.MaxTimeout
	}
	opts.Timeout = timeout

	tx, err := a.BeginTx(ctx, adapter.TxOptions{
		IsolationLevel:   opts.IsolationLevel,
		ReadOnly:         opts.ReadOnly,
		StatementTimeout: opts.StatementTimeout,
	})
	if err != nil {
		return Info{}, err
	}

	now := m.now()
	t := &transaction{
		id:         uuid.NewString(),
		connection: connection,
		adapter:    a,
		tx:         tx,
		opts:       opts,
		state:      StatePending,
		startedAt:  now,
		deadline:   now.Add(timeout),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.rollbackQuietly(tx)
		return Info{}, dberrors.Transaction(ErrManagerClosed, "transaction manager is closed")
	}
	m.active[t.id] = t
	t.mu.Lock()
	t.timer = time.AfterFunc(timeout, func() { m.expire(t) })
	info := t.info()
	t.mu.Unlock()
	m.mu.Unlock()

	m.logger.DebugContext(logger.WithTxID(ctx, t.id), "transaction started",
		"connection", connection,
		"isolation", opts.IsolationLevel,
		"read_only", opts.ReadOnly,
		"timeout", timeout,
	)
	return info, nil
}

// lock 取出事务并加锁，事务必须处于 PENDING
func (m *Manager) lock(id string) (*transaction, error) {
	m.mu.RLock()
	t, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return nil, m.notActive(id)
	}
	t.mu.Lock()
	if t.state.Terminal() {
		state := t.state
		t.mu.Unlock()
		return nil, dberrors.Transaction(ErrNotPending, "transaction %s is %s", id, state).
			WithDetail("transactionId", id).
			WithDetail("state", state)
	}
	return t, nil
}

// notActive 区分已结束与从未存在的事务
func (m *Manager) notActive(id string) error {
	if m.history != nil {
		if info, ok := m.history.Get(id); ok {
			return dberrors.Transaction(ErrNotPending, "transaction %s is %s", id, info.State).
				WithDetail("transactionId", id).
				WithDetail("state", info.State)
		}
	}
	return dberrors.Transaction(ErrNotFound, "transaction %s not found", id).WithDetail("transactionId", id)
}

// ExecuteInTransaction 在事务连接上执行 op。失败时自动回滚并返回原始错误
func (m *Manager) ExecuteInTransaction(ctx context.Context, id string, op Operation) (any, error) {
	t, err := m.lock(id)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTxID(ctx, id)

	result, err := op(ctx, t.tx)
	if err != nil {
		m.abortLocked(ctx, t, err)
		t.mu.Unlock()
		m.finished(t)
		return nil, err
	}
	t.ops++
	t.mu.Unlock()
	return result, nil
}

// ExecuteBatchInTransaction 按顺序执行 ops，遇到第一个失败即回滚并停止
func (m *Manager) ExecuteBatchInTransaction(ctx context.Context, id string, ops []Operation) ([]any, error) {
	t, err := m.lock(id)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTxID(ctx, id)

	results := make([]any, 0, len(ops))
	for i, op := range ops {
		result, err := op(ctx, t.tx)
		if err != nil {
			m.logger.DebugContext(ctx, "batch operation failed", "index", i, "error", err)
			m.abortLocked(ctx, t, err)
			t.mu.Unlock()
			m.finished(t)
			return results, err
		}
		t.ops++
		results = append(results, result)
	}
	t.mu.Unlock()
	return results, nil
}

// abortLocked 操作失败后的自动回滚，调用方持有 t.mu
func (m *Manager) abortLocked(ctx context.Context, t *transaction, cause error) {
	rbCtx, cancel := m.rollbackContext(ctx)
	defer cancel()

	if rbErr := t.tx.Rollback(rbCtx); rbErr != nil {
		m.logger.ErrorContext(ctx, "automatic rollback failed",
			"error", cause,
			"rollback_error", rbErr,
		)
		m.endLocked(t, StateError)
		return
	}
	m.logger.WarnContext(ctx, "transaction rolled back after failed operation", "error", cause)
	m.endLocked(t, StateRolledBack)
}

// CommitTransaction 提交事务
func (m *Manager) CommitTransaction(ctx context.Context, id string) (Info, error) {
	t, err := m.lock(id)
	if err != nil {
		return Info{}, err
	}
	ctx = logger.WithTxID(ctx, id)

	if err := t.tx.Commit(ctx); err != nil {
		m.logger.ErrorContext(ctx, "commit failed", "error", err)
		m.endLocked(t, StateError)
		info := t.info()
		t.mu.Unlock()
		m.finished(t)
		return info, err
	}
	m.endLocked(t, StateCommitted)
	info := t.info()
	t.mu.Unlock()
	m.finished(t)

	m.logger.DebugContext(ctx, "transaction committed", "operations", info.OperationsCount)
	return info, nil
}

// RollbackTransaction 回滚事务
func (m *Manager) RollbackTransaction(ctx context.Context, id string) (Info, error) {
	t, err := m.lock(id)
	if err != nil {
		return Info{}, err
	}
	ctx = logger.WithTxID(ctx, id)

	if err := t.tx.Rollback(ctx); err != nil {
		m.logger.ErrorContext(ctx, "rollback failed", "error", err)
		m.endLocked(t, StateError)
		info := t.info()
		t.mu.Unlock()
		m.finished(t)
		return info, err
	}
	m.endLocked(t, StateRolledBack)
	info := t.info()
	t.mu.Unlock()
	m.finished(t)

	m.logger.DebugContext(ctx, "transaction rolled back", "operations", info.OperationsCount)
	return info, nil
}

// expire 超时回调
func (m *Manager) expire(t *transaction) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.timedOut = true
	m.timedOut.Add(1)
	ctx := logger.WithTxID(context.Background(), t.id)
	rbCtx, cancel := m.rollbackContext(ctx)
	err := t.tx.Rollback(rbCtx)
	cancel()
	if err != nil {
		m.logger.ErrorContext(ctx, "timeout rollback failed", "error", err)
		m.endLocked(t, StateError)
	} else {
		m.logger.WarnContext(ctx, "transaction timed out and was rolled back",
			"connection", t.connection,
			"timeout", t.opts.Timeout,
			"operations", t.ops,
		)
		m.endLocked(t, StateRolledBack)
	}
	t.mu.Unlock()
	m.finished(t)
}

func (m *Manager) rollbackContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), m.cfg.RollbackTimeout)
}

func (m *Manager) rollbackQuietly(tx adapter.Tx) {
	ctx, cancel := m.rollbackContext(context.Background())
	defer cancel()
	if err := tx.Rollback(ctx); err != nil {
		m.logger.Warn("rollback of discarded transaction failed", "error", err)
	}
}

// endLocked 进入终态，调用方持有 t.mu
func (m *Manager) endLocked(t *transaction, state State) {
	t.state = state
	t.endedAt = m.now()
	if t.timer != nil {
		t.timer.Stop()
	}
	switch state {
	case StateCommitted:
		m.committed.Add(1)
	case StateRolledBack:
		m.rolledBack.Add(1)
	case StateError:
		m.errored.Add(1)
	}
}

// finished 从活动表移入历史并触发回调
func (m *Manager) finished(t *transaction) {
	t.mu.Lock()
	info := t.info()
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()

	if m.history != nil {
		m.history.Set(info.ID, info)
	}
	for _, h := range m.hooks {
		h(info)
	}
}

// Get 查询事务，已结束的事务在历史容量内仍可查到
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	t, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.info(), true
	}
	if m.history != nil {
		return m.history.Get(id)
	}
	return Info{}, false
}

// Active 活动事务快照，按开始时间排序
func (m *Manager) Active() []Info {
	m.mu.RLock()
	txs := make([]*transaction, 0, len(m.active))
	for _, t := range m.active {
		txs = append(txs, t)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(txs))
	for _, t := range txs {
		t.mu.Lock()
		if !t.state.Terminal() {
			out = append(out, t.info())
		}
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stats 管理器统计
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.active)
	m.mu.RUnlock()
	return Stats{
		Active:     active,
		Committed:  m.committed.Load(),
		RolledBack: m.rolledBack.Load(),
		Errored:    m.errored.Load(),
		TimedOut:   m.timedOut.Load(),
	}
}

// Close 拒绝新事务并回滚全部未结束事务
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	txs := make([]*transaction, 0, len(m.active))
	for _, t := range m.active {
		txs = append(txs, t)
	}
	m.mu.Unlock()

	for _, t := range txs {
		t.mu.Lock()
		if t.state.Terminal() {
			t.mu.Unlock()
			continue
		}
		rbCtx, cancel := m.rollbackContext(ctx)
		err := t.tx.Rollback(rbCtx)
		cancel()
		if err != nil {
			m.logger.Error("rollback on close failed", "tx_id", t.id, "error", err)
			m.endLocked(t, StateError)
		} else {
			m.logger.Warn("pending transaction rolled back on close", "tx_id", t.id, "connection", t.connection)
			m.endLocked(t, StateRolledBack)
		}
		t.mu.Unlock()
		m.finished(t)
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
