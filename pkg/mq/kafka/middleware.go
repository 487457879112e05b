package kafka

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// LoggingMiddleware 记录发送耗时与失败
func LoggingMiddleware(log logger.Logger) ProducerMiddleware {
	return func(next PublishFunc) PublishFunc {
		return func(ctx context.Context, msgs ...*Message) error {
			start := time.Now()
			err := next(ctx, msgs...)
			if err != nil {
				log.ErrorContext(ctx, "message publish failed",
					"topic", topicOf(msgs),
					"count", len(msgs),
					"duration", time.Since(start),
					"error", err,
				)
				return err
			}
			log.DebugContext(ctx, "message published",
				"topic", topicOf(msgs),
				"count", len(msgs),
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// RecoveryMiddleware 捕获发送链中的 panic
func RecoveryMiddleware(log logger.Logger) ProducerMiddleware {
	return func(next PublishFunc) PublishFunc {
		return func(ctx context.Context, msgs ...*Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("producer panic recovered", "topic", topicOf(msgs), "panic", r)
					err = ErrProducerPanic
				}
			}()
			return next(ctx, msgs...)
		}
	}
}

func topicOf(msgs []*Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0].Topic
}
