package mongo

import (
	"context"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// transactionOptions 隔离级别映射到读关注：可重复读及以上使用 snapshot
func transactionOptions(opts adapter.TxOptions) *options.TransactionOptionsBuilder {
	rc := readconcern.Majority()
	switch opts.IsolationLevel {
	case adapter.RepeatableRead, adapter.Serializable:
		rc = readconcern.Snapshot()
	}
	return options.Transaction().
		SetReadConcern(rc).
		SetWriteConcern(writeconcern.Majority())
}

// Tx 绑定一个会话的多文档事务
type Tx struct {
	*executor

	sess  *mongo.Session
	lease *pool.Lease[*conn]
	pool  *pool.Pool[*conn]
	done  atomic.Bool
}

var _ adapter.Tx = (*Tx)(nil)

// BeginTx 借出句柄、启动会话并开启事务
func (a *Adapter) BeginTx(ctx context.Context, opts adapter.TxOptions) (adapter.Tx, error) {
	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpBegin, err)
	}

	sess, err := lease.Conn().client.StartSession()
	if err != nil {
		lease.Release()
		return nil, adapter.Wrap(engine, adapter.OpBegin, err)
	}
	if err := sess.StartTransaction(transactionOptions(opts)); err != nil {
		sess.EndSession(ctx)
		lease.Release()
		return nil, adapter.Wrap(engine, adapter.OpBegin, err)
	}

	t := &Tx{sess: sess, lease: lease, pool: a.pool}
	t.executor = &executor{run: t.run, now: time.Now}
	lease.Bind(t)
	return t, nil
}

func (t *Tx) run(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error {
	if t.done.Load() {
		return ErrTxDone
	}
	start := time.Now()
	err := fn(mongo.NewSessionContext(ctx, t.sess), t.lease.Conn().db)
	t.pool.RecordQuery(time.Since(start), err)
	return err
}

// Commit 提交并结束会话
func (t *Tx) Commit(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return adapter.Wrap(engine, adapter.OpCommit, ErrTxDone)
	}
	defer t.finish(ctx)

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return adapter.Wrap(engine, adapter.OpCommit, err)
	}
	return nil
}

// Rollback 中止并结束会话
func (t *Tx) Rollback(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return adapter.Wrap(engine, adapter.OpRollback, ErrTxDone)
	}
	defer t.finish(ctx)

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return adapter.Wrap(engine, adapter.OpRollback, err)
	}
	return nil
}

func (t *Tx) finish(ctx context.Context) {
	t.sess.EndSession(ctx)
	t.lease.Release()
}

// Savepoint 不支持
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return dberrors.Unsupported(engine, "savepoints")
}

// RollbackToSavepoint 不支持
func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return dberrors.Unsupported(engine, "savepoints")
}

// ReleaseSavepoint 不支持
func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	return dberrors.Unsupported(engine, "savepoints")
}
