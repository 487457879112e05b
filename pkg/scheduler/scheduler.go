// Package scheduler 基于 robfig/cron 的周期任务调度器。
//
// 健康检查、缓存清理、连接池容量评估、指标刷新都以固定间隔任务的形式注册在
// 同一个 Scheduler 上。任务执行互不阻塞，同一任务上一次尚未结束时跳过本轮。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

var (
	// ErrInvalidInterval 间隔无效
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")

	// ErrStopped 调度器已停止
	ErrStopped = errors.New("scheduler: stopped")
)

// TaskFunc 任务函数，ctx 在调度器停止时取消
type TaskFunc func(ctx context.Context)

// TaskID 任务标识
type TaskID = cron.EntryID

// Scheduler 周期任务调度器
type Scheduler struct {
	cron   *cron.Cron
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	names   map[TaskID]string
	started bool
	stopped bool
}

// Option 调度器选项
type Option func(*Scheduler)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 创建调度器
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logger.Noop(),
		names:  make(map[TaskID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := &cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Every 注册固定间隔任务。cron 的最小粒度为 1 秒，更短的间隔按 1 秒执行
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) (TaskID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrStopped
	}

	ctx := s.ctx
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		fn(ctx)
	}))
	s.names[id] = name

	s.logger.Debug("task scheduled", "task", name, "interval", interval)
	return id, nil
}

// Remove 移除任务
func (s *Scheduler) Remove(id TaskID) {
	s.mu.Lock()
	name, ok := s.names[id]
	delete(s.names, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.cron.Remove(id)
	s.logger.Debug("task removed", "task", name)
}

// Len 已注册的任务数
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Start 启动调度器（幂等）
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop 停止调度器，等待正在执行的任务结束或 ctx 超时
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger 将 cron 内部日志转接到 logger.Logger
type cronLogger struct {
	l logger.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
