// Package rest 基于 PostgREST 协议的托管 REST 后端适配器。
//
// 条件编码为 col=eq.value 查询参数，写操作通过 Prefer: return=representation
// 取回结果，原生调用映射为 POST rpc/<function>。后端不提供跨请求事务，
// SupportsTransactions 返回 false，BeginTx 直接拒绝。
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

func init() {
	adapter.Register(adapter.ProviderREST, func(cfg adapter.ConnectionConfig, opts adapter.Options) (adapter.Adapter, error) {
		return New(cfg, opts)
	})
}

// Adapter REST 适配器
type Adapter struct {
	id     string
	client *http.Client
	pool   *pool.Pool[*conn]
	logger logger.Logger
	now    func() time.Time
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ pool.RawQuerier = (*conn)(nil)
)

// New 创建适配器，同一连接上的并发请求数受连接池上限约束
func New(cfg adapter.ConnectionConfig, opts adapter.Options) (*Adapter, error) {
	ep, err := parseEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pool.MergeConfig(pool.DefaultConfig(), &cfg.Pool)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = poolCfg.MaxSize
	transport.MaxIdleConnsPerHost = poolCfg.MaxSize
	client := &http.Client{Transport: transport, Timeout: ep.timeout}

	return newAdapter(cfg, poolCfg, client, ep, opts)
}

func newAdapter(cfg adapter.ConnectionConfig, poolCfg *pool.Config, client *http.Client, ep *endpoint, opts adapter.Options) (*Adapter, error) {
	l := opts.Logger
	if l == nil {
		l = logger.Noop()
	}
	p, err := pool.New[*conn](cfg.ID, poolCfg, pool.ConnectorFunc[*conn](func(ctx context.Context) (*conn, error) {
		return &conn{client: client, ep: ep}, nil
	}),
		pool.WithLogger[*conn](l),
		pool.WithScheduler[*conn](opts.Scheduler),
	)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		id:     cfg.ID,
		client: client,
		pool:   p,
		logger: l.Named("rest").WithFields("connection", cfg.ID),
		now:    time.Now,
	}, nil
}

// Engine 引擎名称
func (a *Adapter) Engine() string { return engine }

// SupportsTransactions 无跨请求事务
func (a *Adapter) SupportsTransactions() bool { return false }

// SupportsNestedTransactions 无保存点
func (a *Adapter) SupportsNestedTransactions() bool { return false }

// BeginTx 始终返回 UNSUPPORTED_OPERATION
func (a *Adapter) BeginTx(ctx context.Context, opts adapter.TxOptions) (adapter.Tx, error) {
	return nil, dberrors.Unsupported(engine, adapter.OpBegin)
}

// Health 连接健康状态
func (a *Adapter) Health() pool.Health { return a.pool.Health() }

// Stats 连接池统计
func (a *Adapter) Stats() pool.Stats { return a.pool.Stats() }

// Start 预热并探测后端
func (a *Adapter) Start(ctx context.Context) error {
	return a.pool.Start(ctx)
}

// Close 关闭连接池并释放空闲的 HTTP 连接
func (a *Adapter) Close(ctx context.Context) error {
	err := a.pool.Close(ctx)
	a.client.CloseIdleConnections()
	return err
}
