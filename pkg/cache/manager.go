// Package cache 提供位于路由器之前的两级缓存。
//
// L1 是进程内的 FIFO 缓存，容量有上限；L2 是可选的 redis，由多个实例共享。
// 读取顺序为 L1、L2，L2 命中后回填 L1。L2 出错只记录告警并退化为仅 L1，
// 不会让读写失败。每个键都按实体和操作登记，写操作之后可以按实体整体失效。
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lk2023060901/xdooria-dal/pkg/cache/fifo"
	"github.com/lk2023060901/xdooria-dal/pkg/database/redis"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/scheduler"
)

// Tier 缓存层级
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
)

// Observer 每次层级查询后回调，用于导出指标
type Observer func(tier Tier, hit bool)

// Manager 两级缓存管理器，V 为缓存值类型，L2 中按 L2Codec 编码
type Manager[V any] struct {
	cfg    *Config
	logger logger.Logger
	codec  *valueCodec

	l1       *fifo.Cache[string, V]
	l2       *redis.Client
	registry *registry
	group    singleflight.Group
	observer Observer

	sched     *scheduler.Scheduler
	ownsSched bool
	cleanupID scheduler.TaskID
	started   atomic.Bool

	l1Hits   atomic.Int64
	l1Misses atomic.Int64
	l2Hits   atomic.Int64
	l2Misses atomic.Int64
	l2Errors atomic.Int64
	misses   atomic.Int64
}

type options struct {
	logger   logger.Logger
	redis    *redis.Client
	sched    *scheduler.Scheduler
	observer Observer
	now      func() time.Time
}

// Option 缓存选项
type Option func(*options)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRedis 启用 L2
func WithRedis(c *redis.Client) Option {
	return func(o *options) {
		o.redis = c
	}
}

// WithScheduler 使用共享调度器运行过期清理任务
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) {
		o.sched = s
	}
}

// WithObserver 设置命中观察者
func WithObserver(fn Observer) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithClock 替换 L1 的时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New 创建缓存管理器
func New[V any](cfg *Config, opts ...Option) (*Manager[V], error) {
	newCfg, err := mergeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := newValueCodec(newCfg.L2Codec)
	if err != nil {
		return nil, err
	}

	o := &options{logger: logger.Noop()}
	for _, opt := range opts {
		opt(o)
	}

	m := &Manager[V]{
		cfg:      newCfg,
		logger:   o.logger.Named("cache"),
		codec:    codec,
		l2:       o.redis,
		registry: newRegistry(),
		observer: o.observer,
		sched:    o.sched,
	}

	l1Opts := []fifo.Option[string, V]{}
	if m.l2 == nil {
		// 没有 L2 时，L1 淘汰的键不再存在于任何层级
		l1Opts = append(l1Opts, fifo.WithOnEvict(func(key string, _ V) {
			m.registry.forget(key)
		}))
	}
	if o.now != nil {
		l1Opts = append(l1Opts, fifo.WithClock[string, V](o.now))
	}
	m.l1 = fifo.New(newCfg.L1, l1Opts...)

	if m.sched == nil {
		m.sched = scheduler.New(scheduler.WithLogger(m.logger))
		m.ownsSched = true
	}
	return m, nil
}

// Enabled 是否启用缓存
func (m *Manager[V]) Enabled() bool {
	return m.cfg.Enabled
}

// L2Enabled 是否配置了 L2
func (m *Manager[V]) L2Enabled() bool {
	return m.l2 != nil
}

// Key 按本管理器的前缀构造缓存键
func (m *Manager[V]) Key(operation, entity string, conditions, opts any) (Key, error) {
	return BuildKey(m.cfg.KeyPrefix, operation, entity, conditions, opts)
}

// Start 注册过期清理任务
func (m *Manager[V]) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	if m.cfg.CleanupInterval > 0 {
		id, err := m.sched.Every("cache_cleanup", m.cfg.CleanupInterval, func(context.Context) {
			m.Cleanup()
		})
		if err != nil {
			return err
		}
		m.cleanupID = id
	}
	if m.ownsSched {
		m.sched.Start()
	}
	return nil
}

// Stop 停止清理任务，不会清空缓存
func (m *Manager[V]) Stop(ctx context.Context) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}
	if m.cleanupID != 0 {
		m.sched.Remove(m.cleanupID)
		m.cleanupID = 0
	}
	if m.ownsSched {
		return m.sched.Stop(ctx)
	}
	return nil
}

// Cleanup 清理 L1 中的过期条目，返回清理数量。L2 依赖 redis 自身过期
func (m *Manager[V]) Cleanup() int {
	n := m.l1.RemoveExpired()
	if n > 0 {
		m.logger.Debug("expired entries removed", "count", n)
	}
	return n
}

// Get 依次查询 L1、L2，L2 命中时回填 L1
func (m *Manager[V]) Get(ctx context.Context, key Key) (V, bool) {
	var zero V
	if !m.cfg.Enabled {
		return zero, false
	}

	if v, ok := m.l1.Get(key.ID); ok {
		m.l1Hits.Add(1)
		m.observe(TierL1, true)
		return v, true
	}
	m.l1Misses.Add(1)
	m.observe(TierL1, false)

	if m.l2 == nil {
		m.misses.Add(1)
		return zero, false
	}

	data, err := redis.GetBytes(ctx, m.l2, key.ID)
	if err == nil {
		var v V
		if err = m.codec.decode(data, &v); err == nil {
			m.l2Hits.Add(1)
			m.observe(TierL2, true)
			m.l1.Set(key.ID, v)
			m.registry.add(key)
			return v, true
		}
		// 损坏或无法识别的值直接删除，下次读取回源
		if _, delErr := m.l2.Del(ctx, key.ID); delErr != nil {
			m.logger.WarnContext(ctx, "failed to drop undecodable l2 value", "key", key.ID, "error", delErr)
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, redis.ErrNil):
	default:
		m.l2Errors.Add(1)
		m.logger.WarnContext(ctx, "l2 read failed, serving from l1 only", "key", key.ID, "error", err)
	}
	m.l2Misses.Add(1)
	m.observe(TierL2, false)
	m.misses.Add(1)
	return zero, false
}

// Set 同步写入 L1 并登记，L2 尽力写入
func (m *Manager[V]) Set(ctx context.Context, key Key, value V) {
	if !m.cfg.Enabled {
		return
	}
	m.registry.add(key)
	m.store(ctx, key, value)
}

func (m *Manager[V]) store(ctx context.Context, key Key, value V) {
	m.l1.Set(key.ID, value)
	if m.l2 == nil {
		return
	}
	err := m.l2.Pipelined(ctx, func(p *redis.Pipeline) error {
		data, err := m.codec.encode(value)
		if err != nil {
			return err
		}
		p.Set(key.ID, data, m.cfg.L2TTL)
		p.SAdd(m.registryKey(key.Entity), key.ID)
		return nil
	})
	if err != nil {
		m.l2Errors.Add(1)
		m.logger.WarnContext(ctx, "l2 write failed, value kept in l1", "key", key.ID, "error", err)
	}
}

// Delete 删除单个键
func (m *Manager[V]) Delete(ctx context.Context, key Key) {
	m.l1.Delete(key.ID)
	m.registry.forget(key.ID)
	if m.l2 == nil {
		return
	}
	err := m.l2.Pipelined(ctx, func(p *redis.Pipeline) error {
		p.Del(key.ID)
		p.SRem(m.registryKey(key.Entity), key.ID)
		return nil
	})
	if err != nil {
		m.l2Errors.Add(1)
		m.logger.WarnContext(ctx, "l2 delete failed", "key", key.ID, "error", err)
	}
}

// GetOrLoad 读穿缓存。并发的相同未命中请求只调用一次 load；
// load 期间实体被失效时，结果照常返回但不会写入缓存
func (m *Manager[V]) GetOrLoad(ctx context.Context, key Key, load func(ctx context.Context) (V, error)) (V, bool, error) {
	if !m.cfg.Enabled {
		v, err := load(ctx)
		return v, false, err
	}
	if v, ok := m.Get(ctx, key); ok {
		return v, true, nil
	}

	gen := m.registry.generation(key.Entity)
	res, err, _ := m.group.Do(key.ID, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if m.registry.addIfCurrent(key, gen) {
			m.store(ctx, key, v)
		}
		return v, nil
	})
	v, _ := res.(V)
	return v, false, err
}

// UnregisterEntity 删除实体登记过的全部键，包括其他实例写入 L2 的键，返回删除的键数
func (m *Manager[V]) UnregisterEntity(ctx context.Context, entity string) int {
	ids := m.registry.removeEntity(entity)
	for _, id := range ids {
		m.l1.Delete(id)
	}
	if m.l2 == nil {
		return len(ids)
	}

	setKey := m.registryKey(entity)
	remote, err := m.l2.SMembers(ctx, setKey)
	if err != nil {
		m.l2Errors.Add(1)
		m.logger.WarnContext(ctx, "l2 registry read failed", "entity", entity, "error", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	all := append([]string(nil), ids...)
	for _, id := range remote {
		if _, ok := seen[id]; !ok {
			all = append(all, id)
			m.l1.Delete(id)
		}
	}

	if _, err := m.l2.Del(ctx, append(all, setKey)...); err != nil {
		m.l2Errors.Add(1)
		m.logger.WarnContext(ctx, "l2 invalidation failed", "entity", entity, "error", err)
	}
	m.logger.DebugContext(ctx, "entity invalidated", "entity", entity, "keys", len(all))
	return len(all)
}

// Keys 实体已登记的键，operation 为空时返回全部操作
func (m *Manager[V]) Keys(entity, operation string) []string {
	return m.registry.keys(entity, operation)
}

// Entities 当前有缓存键的实体
func (m *Manager[V]) Entities() []string {
	return m.registry.entityNames()
}

// Clear 清空 L1 与全部登记，并删除登记过的 L2 键
func (m *Manager[V]) Clear(ctx context.Context) {
	for _, entity := range m.registry.entityNames() {
		m.UnregisterEntity(ctx, entity)
	}
	m.l1.Clear()
	m.registry.clear()
}

func (m *Manager[V]) registryKey(entity string) string {
	return m.cfg.KeyPrefix + ":registry:" + entity
}

func (m *Manager[V]) observe(tier Tier, hit bool) {
	if m.observer != nil {
		m.observer(tier, hit)
	}
}
