// Package mysql 基于 database/sql 与 go-sql-driver/mysql 的 MySQL 适配器。
package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

func init() {
	adapter.Register(adapter.ProviderMySQL, func(cfg adapter.ConnectionConfig, opts adapter.Options) (adapter.Adapter, error) {
		return New(cfg, opts)
	})
}

// Adapter MySQL 适配器
type Adapter struct {
	*executor

	id     string
	db     *sql.DB
	pool   *pool.Pool[*conn]
	logger logger.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New 创建适配器，sql.Open 不会建立连接
func New(cfg adapter.ConnectionConfig, opts adapter.Options) (*Adapter, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, db, opts)
}

// NewWithDB 基于已有 *sql.DB 创建适配器，Close 时会关闭 db
func NewWithDB(cfg adapter.ConnectionConfig, db *sql.DB, opts adapter.Options) (*Adapter, error) {
	l := opts.Logger
	if l == nil {
		l = logger.Noop()
	}

	p, err := pool.New[*conn](cfg.ID, &cfg.Pool, &connector{db: db},
		pool.WithLogger[*conn](l),
		pool.WithScheduler[*conn](opts.Scheduler),
	)
	if err != nil {
		return nil, err
	}

	poolCfg := p.Config()
	db.SetMaxOpenConns(poolCfg.MaxSize)
	db.SetMaxIdleConns(0)

	a := &Adapter{
		id:     cfg.ID,
		db:     db,
		pool:   p,
		logger: l.Named("mysql").WithFields("connection", cfg.ID),
	}
	a.executor = &executor{run: a.run, now: time.Now}
	return a, nil
}

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

// Close 关闭连接池与底层 *sql.DB
func (a *Adapter) Close(ctx context.Context) error {
	if err := a.pool.Close(ctx); err != nil {
		return err
	}
	return a.db.Close()
}
