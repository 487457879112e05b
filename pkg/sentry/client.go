// Package sentry 把错误级别日志与 panic 上报到 Sentry。
//
// 接入点是 logger 的 Hook：访问日志中的 5xx 与 Recovery 记录的 panic
// 都以错误级别写日志，因此无需在业务代码中显式上报。
package sentry

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/getsentry/sentry-go"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// Client Sentry 客户端。未启用时所有方法都是空操作
type Client struct {
	cfg      *Config
	hub      *sentry.Hub
	closed   atomic.Bool
	captured atomic.Uint64
}

type options struct {
	beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Option 选项
type Option func(*options)

// WithBeforeSend 事件发送前的回调，返回 nil 丢弃事件
func WithBeforeSend(fn func(*sentry.Event, *sentry.EventHint) *sentry.Event) Option {
	return func(o *options) {
		o.beforeSend = fn
	}
}

// New 创建客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	newCfg := DefaultConfig()
	if cfg != nil {
		merged, err := config.MergeConfig(newCfg, cfg)
		if err != nil {
			return nil, err
		}
		merged.Enabled = cfg.Enabled
		newCfg = merged
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: newCfg}
	if !newCfg.Enabled {
		return c, nil
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	co := newCfg.clientOptions()
	co.BeforeSend = o.beforeSend

	client, err := sentry.NewClient(co)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	c.hub = sentry.NewHub(client, sentry.NewScope())
	c.hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range newCfg.Tags {
			scope.SetTag(k, v)
		}
	})
	return c, nil
}

// Enabled 是否在上报
func (c *Client) Enabled() bool {
	return c.hub != nil && !c.closed.Load()
}

// CaptureError 上报错误，带上 context 中的请求信息与错误码
func (c *Client) CaptureError(ctx context.Context, err error) {
	if err == nil || !c.Enabled() {
		return
	}
	c.hub.WithScope(func(scope *sentry.Scope) {
		applyContext(scope, ctx)
		scope.SetTag("code", string(dberrors.CodeOf(err)))
		if c.hub.CaptureException(err) != nil {
			c.captured.Add(1)
		}
	})
}

// Captured 已提交的事件数
func (c *Client) Captured() uint64 {
	return c.captured.Load()
}

// Flush 等待已提交的事件发送完成
func (c *Client) Flush() bool {
	if c.hub == nil {
		return true
	}
	return c.hub.Flush(c.cfg.FlushTimeout)
}

// Close 发送剩余事件后停止上报
func (c *Client) Close() error {
	if c.closed.Swap(true) || c.hub == nil {
		return nil
	}
	c.hub.Flush(c.cfg.FlushTimeout)
	return nil
}

func applyContext(scope *sentry.Scope, ctx context.Context) {
	if ctx == nil {
		return
	}
	if v := logger.RequestIDFrom(ctx); v != "" {
		scope.SetTag("request_id", v)
	}
	if v := logger.ActorFrom(ctx); v != "" {
		scope.SetUser(sentry.User{ID: v})
	}
	if v := logger.TxIDFrom(ctx); v != "" {
		scope.SetTag("tx_id", v)
	}
}
