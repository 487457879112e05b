// Package router 决定一次请求由哪个已注册的连接处理。
//
// 路由只读取连接的健康状态与统计信息，返回适配器引用，不做任何 I/O。
// 路由配置可以在运行时整体替换（例如配置文件热加载），替换是原子的，
// 进行中的 Route 调用看到的要么是旧配置，要么是新配置。
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lk2023060901/xdooria-dal/pkg/balancer"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// Route 路由结果
type Route struct {
	ConnectionID string
	Adapter      adapter.Adapter
	// Pinned 是否由实体映射决定
	Pinned bool
}

type connection struct {
	id      string
	adapter adapter.Adapter
	weight  int
}

func (c *connection) healthy() bool {
	return c.adapter.Health().Status == pool.StatusConnected
}

// Router 多连接路由器
type Router struct {
	cfg    atomic.Pointer[RoutingConfig]
	logger logger.Logger

	mu          sync.RWMutex
	connections map[string]*connection

	// 各策略的选择器在路由器生命周期内保持状态（轮询计数、加权当前值）
	balancers map[Strategy]balancer.Balancer
}

// Option 路由器选项
type Option func(*Router)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 创建路由器
func New(cfg RoutingConfig, opts ...Option) (*Router, error) {
	r := &Router{
		logger:      logger.Noop(),
		connections: make(map[string]*connection),
		balancers: map[Strategy]balancer.Balancer{
			StrategyLoadBalance:    balancer.New(balancer.LeastLoadedName),
			StrategyRoundRobin:     balancer.New(balancer.RoundRobinName),
			StrategyWeighted:       balancer.New(balancer.WeightedName),
			StrategyConsistentHash: balancer.New(balancer.ConsistentHashName),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("router")
	if err := r.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateConfig 校验后原子替换路由配置
func (r *Router) UpdateConfig(cfg RoutingConfig) error {
	next := cfg.clone()
	if err := next.Validate(); err != nil {
		return err
	}
	prev := r.cfg.Swap(&next)
	if prev != nil {
		r.logger.Info("routing config updated",
			"primary", next.Primary,
			"strategy", next.Strategy,
			"fallbacks", next.Fallbacks,
			"pinned_entities", len(next.EntityMapping),
		)
	}
	r.warnUnregistered(&next)
	return nil
}

// Config 当前生效的路由配置副本
func (r *Router) Config() RoutingConfig {
	return r.cfg.Load().clone()
}

func (r *Router) warnUnregistered(cfg *RoutingConfig) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.connections) == 0 {
		return
	}
	ids := append([]string{cfg.Primary}, cfg.Fallbacks...)
	for _, id := range cfg.EntityMapping {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, ok := r.connections[id]; !ok {
			r.logger.Warn("routing config references unregistered connection", "connection", id)
		}
	}
}

// Register 注册连接，weight 供加权策略使用
func (r *Router) Register(id string, a adapter.Adapter, weight int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	r.connections[id] = &connection{id: id, adapter: a, weight: weight}
	return nil
}

// Unregister 注销连接并返回其适配器，适配器由调用方关闭
func (r *Router) Unregister(id string) (adapter.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	delete(r.connections, id)
	return c.adapter, true
}

// Get 按 id 获取适配器
func (r *Router) Get(id string) (adapter.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	return c.adapter, true
}

// Connections 已注册的连接 id，按字典序
func (r *Router) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Route 为实体选择连接
func (r *Router) Route(entity string) (Route, error) {
	cfg := r.cfg.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := cfg.EntityMapping[entity]; ok {
		if c, ok := r.connections[id]; ok {
			return Route{ConnectionID: c.id, Adapter: c.adapter, Pinned: true}, nil
		}
	}

	primary, ok := r.connections[cfg.Primary]
	if !ok {
		return Route{}, dberrors.Unavailable(ErrNoPrimary, "primary connection %q is not registered", cfg.Primary).
			WithDetail("connection", cfg.Primary)
	}

	c := r.pick(cfg, primary, entity)
	return Route{ConnectionID: c.id, Adapter: c.adapter}, nil
}

// pick 调用方持有 r.mu 读锁
func (r *Router) pick(cfg *RoutingConfig, primary *connection, entity string) *connection {
	switch cfg.Strategy {
	case StrategyFallback:
		if primary.healthy() {
			return primary
		}
		for _, id := range cfg.Fallbacks {
			if c, ok := r.connections[id]; ok && c.healthy() {
				return c
			}
		}
		return primary

	case StrategyLoadBalance, StrategyRoundRobin, StrategyWeighted, StrategyConsistentHash:
		candidates := r.candidates(cfg, primary)
		nodes := make([]*balancer.Node, len(candidates))
		byID := make(map[string]*connection, len(candidates))
		for i, c := range candidates {
			nodes[i] = &balancer.Node{ID: c.id, Weight: c.weight}
			if cfg.Strategy == StrategyLoadBalance {
				nodes[i].Load = c.adapter.Stats().TotalQueries
			}
			byID[c.id] = c
		}
		if n := r.balancers[cfg.Strategy].Pick(nodes, balancer.PickInfo{Key: entity}); n != nil {
			if c, ok := byID[n.ID]; ok {
				return c
			}
		}
		return primary

	default:
		return primary
	}
}

// candidates 主连接加上健康的备用连接
func (r *Router) candidates(cfg *RoutingConfig, primary *connection) []*connection {
	out := make([]*connection, 0, 1+len(cfg.Fallbacks))
	out = append(out, primary)
	for _, id := range cfg.Fallbacks {
		if c, ok := r.connections[id]; ok && c.healthy() {
			out = append(out, c)
		}
	}
	return out
}

// Close 关闭并注销全部连接，返回第一个关闭错误
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[string]*connection)
	r.mu.Unlock()

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var firstErr error
	for _, id := range ids {
		if err := conns[id].adapter.Close(ctx); err != nil {
			r.logger.Error("close connection failed", "connection", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
