package kafka

import (
	"context"
	"time"
)

// Message 待发送的消息
type Message struct {
	Topic string
	// Key 相同 Key 的消息进入同一分区
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// PublishFunc 发送函数
type PublishFunc func(ctx context.Context, msgs ...*Message) error

// ProducerMiddleware 生产者中间件
type ProducerMiddleware func(next PublishFunc) PublishFunc

// ProducerStats 生产者统计
type ProducerStats struct {
	MessagesProduced  int64     `json:"messages_produced"`
	MessagesSucceeded int64     `json:"messages_succeeded"`
	MessagesFailed    int64     `json:"messages_failed"`
	LastMessageTime   time.Time `json:"last_message_time"`
}
