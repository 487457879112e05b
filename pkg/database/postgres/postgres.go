// Package postgres 基于 pgx 原生连接与 squirrel 的 PostgreSQL 适配器。
package postgres

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

func init() {
	adapter.Register(adapter.ProviderPostgres, func(cfg adapter.ConnectionConfig, opts adapter.Options) (adapter.Adapter, error) {
		return New(cfg, opts)
	})
}

// Adapter PostgreSQL 适配器
type Adapter struct {
	*executor

	id     string
	pool   *pool.Pool[*conn]
	logger logger.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New 创建适配器，连接在 Start 时建立
func New(cfg adapter.ConnectionConfig, opts adapter.Options) (*Adapter, error) {
	pgxCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, &connector{cfg: pgxCfg}, opts)
}

func newAdapter(cfg adapter.ConnectionConfig, c pool.Connector[*conn], opts adapter.Options) (*Adapter, error) {
	l := opts.Logger
	if l == nil {
		l = logger.Noop()
	}

	p, err := pool.New[*conn](cfg.ID, &cfg.Pool, c,
		pool.WithLogger[*conn](l),
		pool.WithScheduler[*conn](opts.Scheduler),
	)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		id:     cfg.ID,
		pool:   p,
		logger: l.Named("postgres").WithFields("connection", cfg.ID),
	}
	a.executor = &executor{run: a.run, now: time.Now}
	return a, nil
}

// run 从连接池借出连接执行
func (a *Adapter) run(ctx context.Context, fn func(q querier) error) error {
	return a.pool.Do(ctx, func(c *conn) error {
		return fn(c.raw)
	})
}

// Engine 引擎名称
func (a *Adapter) Engine() string { return engine }

// SupportsTransactions 支持事务
func (a *Adapter) SupportsTransactions() bool { return true }

// SupportsNestedTransactions 通过 SAVEPOINT 支持嵌套事务
func (a *Adapter) SupportsNestedTransactions() bool { return true }

// Health 连接健康状态
func (a *Adapter) Health() pool.Health { return a.pool.Health() }

// Stats 连接池统计
func (a *Adapter) Stats() pool.Stats { return a.pool.Stats() }

// Start 预热连接池
func (a *Adapter) Start(ctx context.Context) error {
	return a.pool.Start(ctx)
}

// Close 关闭连接池，仍未结束的事务会被回滚
func (a *Adapter) Close(ctx context.Context) error {
	return a.pool.Close(ctx)
}
