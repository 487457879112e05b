// Package pool 提供与具体引擎无关的连接池。
//
// 连接数被限制在 [MinSize, MaxSize]，Acquire 在没有可用连接时挂起，直到有连接
// 归还或超过 AcquireTimeout。每个借出的连接只会被归还一次。健康检查、重连和
// 容量评估都以调度任务的形式运行，失败只反映在 Health 上，不会中断进程。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/metrics/sliding"
	"github.com/lk2023060901/xdooria-dal/pkg/scheduler"
)

// Pool 通用连接池
type Pool[C Conn] struct {
	name      string
	cfg       *Config
	connector Connector[C]
	logger    logger.Logger

	sched     *scheduler.Scheduler
	ownsSched bool
	tasks     []scheduler.TaskID

	// slots 限制同时借出的连接数
	slots *semaphore.Weighted

	mu     sync.Mutex
	idle   []C
	active int
	leases map[*Lease[C]]struct{}
	closed bool

	waiting atomic.Int64
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	window  *sliding.Window

	healthMu       sync.RWMutex
	health         Health
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
}

// Option 连接池选项
type Option[C Conn] func(*Pool[C])

// WithLogger 设置日志
func WithLogger[C Conn](l logger.Logger) Option[C] {
	return func(p *Pool[C]) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithScheduler 使用共享调度器，未设置时连接池自建并在 Close 时停止
func WithScheduler[C Conn](s *scheduler.Scheduler) Option[C] {
	return func(p *Pool[C]) {
		p.sched = s
	}
}

// New 创建连接池，不会建立任何连接，预热在 Start 中完成
func New[C Conn](name string, cfg *Config, connector Connector[C], opts ...Option[C]) (*Pool[C], error) {
	newCfg, err := MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge pool config: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, fmt.Errorf("%w: connector is nil", ErrInvalidConfig)
	}

	window, err := sliding.NewWindow(&sliding.WindowConfig{Size: newCfg.LatencyWindow})
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = newCfg.ReconnectDelay
	b.MaxInterval = newCfg.MaxReconnectDelay

	p := &Pool[C]{
		name:      name,
		cfg:       newCfg,
		connector: connector,
		logger:    logger.Noop(),
		slots:     semaphore.NewWeighted(int64(newCfg.MaxSize)),
		leases:    make(map[*Lease[C]]struct{}),
		window:    window,
		backoff:   b,
		health:    Health{Status: StatusDisconnected},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pool").WithFields("connection", name)

	if p.sched == nil {
		p.sched = scheduler.New(scheduler.WithLogger(p.logger))
		p.ownsSched = true
	}
	return p, nil
}

// Name 连接标识
func (p *Pool[C]) Name() string {
	return p.name
}

// Config 生效的配置
func (p *Pool[C]) Config() Config {
	return *p.cfg
}

// Start 预热 MinSize 个连接并注册健康检查与容量评估任务。
// 预热失败只记录日志，由健康检查继续跟进
func (p *Pool[C]) Start(ctx context.Context) error {
	p.warmUp(ctx)
	p.CheckHealth(ctx)

	if p.cfg.HealthCheckInterval > 0 {
		id, err := p.sched.Every("health_check:"+p.name, p.cfg.HealthCheckInterval, func(ctx context.Context) {
			p.CheckHealth(ctx)
		})
		if err != nil {
			return err
		}
		p.tasks = append(p.tasks, id)
	}
	if p.cfg.SizingInterval > 0 {
		id, err := p.sched.Every("sizing:"+p.name, p.cfg.SizingInterval, func(ctx context.Context) {
			p.Resize(ctx)
		})
		if err != nil {
			return err
		}
		p.tasks = append(p.tasks, id)
	}
	if p.ownsSched {
		p.sched.Start()
	}

	p.logger.Info("pool started", "min_size", p.cfg.Min(), "max_size", p.cfg.MaxSize)
	return nil
}

func (p *Pool[C]) warmUp(ctx context.Context) {
	for i := 0; i < p.cfg.Min(); i++ {
		err := p.openIdle(ctx)
		if errors.Is(err, errPoolFull) {
			return
		}
		if err != nil {
			p.logger.Warn("pool warm-up failed", "opened", i, "error", err)
			return
		}
	}
}

// openIdle 新建一个空闲连接，建立期间占用一个借出名额。
// 建立期间其他连接可能已被借出并归还，加入空闲列表前需重新核对总数
func (p *Pool[C]) openIdle(ctx context.Context) error {
	if !p.slots.TryAcquire(1) {
		return errPoolFull
	}
	defer p.slots.Release(1)

	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	var reject error
	switch {
	case p.closed:
		reject = ErrPoolClosed
	case len(p.idle)+p.active >= p.cfg.MaxSize:
		reject = errPoolFull
	default:
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()

	if reject != nil {
		_ = conn.Close(ctx)
	}
	return reject
}

// Acquire 借出一个连接，超过 AcquireTimeout 返回 ErrAcquireTimeout
func (p *Pool[C]) Acquire(ctx context.Context) (*Lease[C], error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	p.waiting.Add(1)
	err := p.slots.Acquire(waitCtx, 1)
	p.waiting.Add(-1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.cfg.AcquireTimeout)
	}
	return p.checkout(ctx)
}

// tryAcquire 不等待名额，全部借出时返回 errPoolBusy
func (p *Pool[C]) tryAcquire(ctx context.Context) (*Lease[C], error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if !p.slots.TryAcquire(1) {
		return nil, errPoolBusy
	}
	return p.checkout(ctx)
}

// checkout 在已占用名额的前提下取出空闲连接或新建连接，失败时释放名额
func (p *Pool[C]) checkout(ctx context.Context) (*Lease[C], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, ErrPoolClosed
	}

	var conn C
	fresh := len(p.idle) == 0
	if !fresh {
		conn = p.idle[0]
		p.idle = p.idle[1:]
	}
	p.active++
	p.mu.Unlock()

	if fresh {
		c, err := p.connector.Connect(ctx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			p.slots.Release(1)
			return nil, fmt.Errorf("pool %s: connect: %w", p.name, err)
		}
		conn = c
	}

	lease := &Lease[C]{pool: p, conn: conn}
	p.mu.Lock()
	p.leases[lease] = struct{}{}
	p.mu.Unlock()
	return lease, nil
}

// release 归还连接，由 Lease.Release 调用且只调用一次
func (p *Pool[C]) release(l *Lease[C]) {
	p.mu.Lock()
	delete(p.leases, l)
	p.active--
	discard := p.closed || l.broken.Load() || len(p.idle)+p.active >= p.cfg.MaxSize
	if !discard {
		p.idle = append(p.idle, l.conn)
	}
	p.mu.Unlock()

	if discard {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
		if err := l.conn.Close(ctx); err != nil {
			p.logger.Debug("close discarded connection failed", "error", err)
		}
		cancel()
	}
	p.slots.Release(1)
}

// Do 借出连接执行 fn 并记录统计
func (p *Pool[C]) Do(ctx context.Context, fn func(conn C) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		p.RecordQuery(0, err)
		return err
	}
	defer lease.Release()

	start := time.Now()
	err = fn(lease.Conn())
	p.RecordQuery(time.Since(start), err)
	return err
}

// Query 在借出的连接上执行原生语句
func (p *Pool[C]) Query(ctx context.Context, text string, args ...any) ([]map[string]any, error) {
	var rows []map[string]any
	err := p.Do(ctx, func(conn C) error {
		q, ok := any(conn).(RawQuerier)
		if !ok {
			return ErrRawQueryUnsupported
		}
		var err error
		rows, err = q.Query(ctx, text, args...)
		return err
	})
	return rows, err
}

// RecordQuery 记录一次查询，事务等直接持有连接的调用方也通过它更新统计
func (p *Pool[C]) RecordQuery(latency time.Duration, err error) {
	p.total.Add(1)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.success.Add(1)
	}
	p.window.Record(latency, err == nil)
}

// Stats 统计快照
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	idle, active := len(p.idle), p.active
	p.mu.Unlock()

	return Stats{
		TotalQueries:      p.total.Load(),
		SuccessfulQueries: p.success.Load(),
		FailedQueries:     p.failed.Load(),
		IdleConnections:   idle,
		ActiveConnections: active,
		WaitingRequests:   int(p.waiting.Load()),
		AverageLatency:    p.window.GetAvgLatency(),
		MinSize:           p.cfg.Min(),
		MaxSize:           p.cfg.MaxSize,
	}
}

// Close 关闭连接池：强制回滚仍持有连接的事务，关闭全部空闲连接
func (p *Pool[C]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var bound []*Lease[C]
	for l := range p.leases {
		if l.binding() != nil {
			bound = append(bound, l)
		}
	}
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, id := range p.tasks {
		p.sched.Remove(id)
	}
	if p.ownsSched {
		if err := p.sched.Stop(ctx); err != nil {
			p.logger.Warn("scheduler stop timed out", "error", err)
		}
	}
	p.healthMu.Lock()
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	p.health.Status = StatusDisconnected
	p.healthMu.Unlock()

	for _, l := range bound {
		p.logger.Warn("forcing rollback of transaction still holding a connection")
		if err := l.binding().Rollback(ctx); err != nil {
			p.logger.Error("forced rollback failed", "error", err)
		}
		l.Release()
	}

	for _, conn := range idle {
		if err := conn.Close(ctx); err != nil {
			p.logger.Warn("close idle connection failed", "error", err)
		}
	}

	p.logger.Info("pool closed", "forced_rollbacks", len(bound))
	return nil
}

func (p *Pool[C]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
