package kafka

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// writer kafka.Writer 的最小接口
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 单个 topic 的生产者
type Producer struct {
	topic   string
	writer  writer
	publish PublishFunc

	produced  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	lastMu    sync.Mutex
	last      time.Time

	closed atomic.Bool
}

func newWriter(cfg *Config, topic string) (*kafka.Writer, error) {
	p := cfg.Producer
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              p.BatchSize,
		BatchTimeout:           p.BatchTimeout,
		MaxAttempts:            p.MaxRetries + 1,
		WriteTimeout:           p.WriteTimeout,
		ReadTimeout:            p.ReadTimeout,
		RequiredAcks:           kafka.RequiredAcks(p.RequiredAcks),
		Async:                  p.Async,
		Compression:            parseCompression(p.Compression),
		AllowAutoTopicCreation: true,
	}
	if cfg.TLS != nil || cfg.SASL != nil {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		w.Transport = transport
	}
	return w, nil
}

func newProducer(topic string, w writer, mws []ProducerMiddleware) *Producer {
	p := &Producer{topic: topic, writer: w}
	publish := p.write
	for i := len(mws) - 1; i >= 0; i-- {
		publish = mws[i](publish)
	}
	p.publish = publish
	return p
}

// Publish 发送消息，消息的 Topic 被设置为生产者的 topic
func (p *Producer) Publish(ctx context.Context, msgs ...*Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		m.Topic = p.topic
	}

	n := int64(len(msgs))
	p.produced.Add(n)
	if err := p.publish(ctx, msgs...); err != nil {
		p.failed.Add(n)
		return err
	}
	p.succeeded.Add(n)
	p.lastMu.Lock()
	p.last = time.Now()
	p.lastMu.Unlock()
	return nil
}

func (p *Producer) write(ctx context.Context, msgs ...*Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Key: m.Key, Value: m.Value, Headers: toHeaders(m.Headers)}
	}
	return p.writer.WriteMessages(ctx, out...)
}

// toHeaders 按键排序，保证相同消息的头顺序一致
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, len(keys))
	for i, k := range keys {
		out[i] = kafka.Header{Key: k, Value: []byte(h[k])}
	}
	return out
}

// Topic topic 名称
func (p *Producer) Topic() string {
	return p.topic
}

// Stats 统计快照
func (p *Producer) Stats() ProducerStats {
	p.lastMu.Lock()
	last := p.last
	p.lastMu.Unlock()
	return ProducerStats{
		MessagesProduced:  p.produced.Load(),
		MessagesSucceeded: p.succeeded.Load(),
		MessagesFailed:    p.failed.Load(),
		LastMessageTime:   last,
	}
}

// Close 刷出缓冲并关闭，重复调用无副作用
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
