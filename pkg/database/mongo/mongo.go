// Package mongo 基于 mongo-driver v2 的文档存储适配器。
//
// 驱动自带连接池，这里的 pool.Pool 只负责限制并发借出数、健康检查与统计，
// 借出的句柄共享同一个 *mongo.Client。
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

func init() {
	adapter.Register(adapter.ProviderMongoDB, func(cfg adapter.ConnectionConfig, opts adapter.Options) (adapter.Adapter, error) {
		return New(cfg, opts)
	})
}

// conn 共享客户端上的一个借出句柄
type conn struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *conn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close 客户端由适配器统一断开
func (c *conn) Close(ctx context.Context) error {
	return nil
}

// Adapter MongoDB 适配器
type Adapter struct {
	*executor

	id     string
	client *mongo.Client
	pool   *pool.Pool[*conn]
	logger logger.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New 创建适配器。mongo.Connect 只解析配置，真正的连接在首次使用时建立
func New(cfg adapter.ConnectionConfig, opts adapter.Options) (*Adapter, error) {
	poolCfg, err := pool.MergeConfig(pool.DefaultConfig(), &cfg.Pool)
	if err != nil {
		return nil, err
	}
	clientOpts, err := clientOptions(cfg, poolCfg.MaxSize)
	if err != nil {
		return nil, err
	}
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, err
	}

	l := opts.Logger
	if l == nil {
		l = logger.Noop()
	}
	db := client.Database(cfg.Database)
	p, err := pool.New[*conn](cfg.ID, poolCfg, pool.ConnectorFunc[*conn](func(ctx context.Context) (*conn, error) {
		return &conn{client: client, db: db}, nil
	}),
		pool.WithLogger[*conn](l),
		pool.WithScheduler[*conn](opts.Scheduler),
	)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	a := &Adapter{
		id:     cfg.ID,
		client: client,
		pool:   p,
		logger: l.Named("mongo").WithFields("connection", cfg.ID),
	}
	a.executor = &executor{run: a.run, now: time.Now}
	return a, nil
}

func (a *Adapter) run(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error {
	return a.pool.Do(ctx, func(c *conn) error {
		return fn(ctx, c.db)
	})
}

// Engine 引擎名称
func (a *Adapter) Engine() string { return engine }

// SupportsTransactions 副本集/分片集群支持多文档事务
func (a *Adapter) SupportsTransactions() bool { return true }

// SupportsNestedTransactions 没有保存点
func (a *Adapter) SupportsNestedTransactions() bool { return false }

// Health 连接健康状态
func (a *Adapter) Health() pool.Health { return a.pool.Health() }

// Stats 连接池统计
func (a *Adapter) Stats() pool.Stats { return a.pool.Stats() }

// Start 预热并探测连接
func (a *Adapter) Start(ctx context.Context) error {
	return a.pool.Start(ctx)
}

// Close 关闭连接池并断开客户端
func (a *Adapter) Close(ctx context.Context) error {
	if err := a.pool.Close(ctx); err != nil {
		return err
	}
	return a.client.Disconnect(ctx)
}
