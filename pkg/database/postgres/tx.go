package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
)

// isoLevels 隔离级别映射
var isoLevels = map[adapter.IsolationLevel]pgx.TxIsoLevel{
	adapter.ReadUncommitted: pgx.ReadUncommitted,
	adapter.ReadCommitted:   pgx.ReadCommitted,
	adapter.RepeatableRead:  pgx.RepeatableRead,
	adapter.Serializable:    pgx.Serializable,
}

// txOptions 转换为 pgx 事务选项
func txOptions(opts adapter.TxOptions) pgx.TxOptions {
	o := pgx.TxOptions{IsoLevel: isoLevels[opts.IsolationLevel]}
	if opts.ReadOnly {
		o.AccessMode = pgx.ReadOnly
	}
	return o
}

// Tx 独占一个连接的事务
type Tx struct {
	*executor

	tx    pgx.Tx
	lease *pool.Lease[*conn]
	pool  *pool.Pool[*conn]
	done  atomic.Bool
}

var _ adapter.Tx = (*Tx)(nil)

// BeginTx 借出一个连接并开启事务，连接在 Commit/Rollback 时归还
func (a *Adapter) BeginTx(ctx context.Context, opts adapter.TxOptions) (adapter.Tx, error) {
	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpBegin, err)
	}

	tx, err := lease.Conn().raw.BeginTx(ctx, txOptions(opts))
	if err != nil {
		lease.Release()
		return nil, adapter.Wrap(engine, adapter.OpBegin, err)
	}

	if opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			lease.Release()
			return nil, adapter.Wrap(engine, adapter.OpBegin, err)
		}
	}

	t := &Tx{tx: tx, lease: lease, pool: a.pool}
	t.executor = &executor{run: t.run, now: time.Now}
	lease.Bind(t)
	return t, nil
}

func (t *Tx) run(ctx context.Context, fn func(q querier) error) error {
	if t.done.Load() {
		return ErrTxDone
	}
	start := time.Now()
	err := fn(t.tx)
	t.pool.RecordQuery(time.Since(start), err)
	return err
}

// Commit 提交并归还连接
func (t *Tx) Commit(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return adapter.Wrap(engine, adapter.OpCommit, ErrTxDone)
	}
	defer t.lease.Release()

	if err := t.tx.Commit(ctx); err != nil {
		return adapter.Wrap(engine, adapter.OpCommit, err)
	}
	return nil
}

// Rollback 回滚并归还连接
func (t *Tx) Rollback(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return adapter.Wrap(engine, adapter.OpRollback, ErrTxDone)
	}
	defer t.lease.Release()

	if err := t.tx.Rollback(ctx); err != nil {
		t.lease.MarkBroken()
		return adapter.Wrap(engine, adapter.OpRollback, err)
	}
	return nil
}

func (t *Tx) savepoint(ctx context.Context, format, name string) error {
	ident, err := dialect.QuoteIdent(name)
	if err != nil {
		return err
	}
	return t.run(ctx, func(q querier) error {
		_, err := q.Exec(ctx, fmt.Sprintf(format, ident))
		return err
	})
}

// Savepoint 创建保存点
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return adapter.Wrap(engine, adapter.OpSavepoint, t.savepoint(ctx, "SAVEPOINT %s", name))
}

// RollbackToSavepoint 回滚到保存点
func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return adapter.Wrap(engine, adapter.OpSavepoint, t.savepoint(ctx, "ROLLBACK TO SAVEPOINT %s", name))
}

// ReleaseSavepoint 释放保存点
func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	return adapter.Wrap(engine, adapter.OpSavepoint, t.savepoint(ctx, "RELEASE SAVEPOINT %s", name))
}
