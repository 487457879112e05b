// Package kafka 是基于 segmentio/kafka-go 的生产者客户端，按 topic 复用写入器。
package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// Client Kafka 生产者客户端
type Client struct {
	config *Config
	logger logger.Logger

	mu          sync.Mutex
	producers   map[string]*Producer
	middlewares []ProducerMiddleware
	newWriter   func(topic string) (writer, error)

	closed atomic.Bool
}

// Option 客户端选项
type Option func(*Client)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMiddleware 追加生产者中间件，先添加的在外层
func WithMiddleware(mw ...ProducerMiddleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// New 创建客户端，不会立即连接 broker
func New(cfg *Config, opts ...Option) (*Client, error) {
	newCfg := DefaultConfig()
	if cfg != nil {
		merged, err := config.MergeConfig(newCfg, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to merge kafka config: %w", err)
		}
		merged.Producer.Async = cfg.Producer.Async
		newCfg = merged
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:    newCfg,
		logger:    logger.Noop(),
		producers: make(map[string]*Producer),
	}
	c.newWriter = func(topic string) (writer, error) {
		return newWriter(c.config, topic)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("kafka")
	return c, nil
}

// Producer 获取或创建 topic 的生产者
func (c *Client) Producer(topic string) (*Producer, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.producers[topic]; ok {
		return p, nil
	}
	w, err := c.newWriter(topic)
	if err != nil {
		return nil, err
	}
	p := newProducer(topic, w, c.middlewares)
	c.producers[topic] = p
	c.logger.Debug("producer created", "topic", topic)
	return p, nil
}

// Publish 发送到指定 topic
func (c *Client) Publish(ctx context.Context, topic string, msgs ...*Message) error {
	p, err := c.Producer(topic)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msgs...)
}

// Topics 已创建生产者的 topic
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.producers))
	for t := range c.producers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Config 生效的配置
func (c *Client) Config() *Config {
	return c.config
}

// Close 关闭全部生产者，返回第一个错误
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClientClosed
	}

	c.mu.Lock()
	producers := c.producers
	c.producers = nil
	c.mu.Unlock()

	var firstErr error
	for topic, p := range producers {
		if err := p.Close(); err != nil {
			c.logger.Error("failed to close producer", "topic", topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.logger.Info("kafka client closed")
	return firstErr
}
