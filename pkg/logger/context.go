package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	actorKey contextKey = iota
	txIDKey
	requestIDKey
)

// ContextFieldExtractor 从 context 提取字段的函数类型
type ContextFieldExtractor func(ctx context.Context) []zap.Field

// WithActor 在 context 中记录操作者
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// WithTxID 在 context 中记录事务 ID
func WithTxID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, txIDKey, txID)
}

// WithRequestID 在 context 中记录请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ActorFrom 读取 context 中的操作者
func ActorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// TxIDFrom 读取 context 中的事务 ID
func TxIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(txIDKey).(string)
	return v
}

// RequestIDFrom 读取 context 中的请求 ID
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// DefaultContextExtractor 提取 request_id / actor / tx_id
func DefaultContextExtractor(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	var fields []zap.Field
	if v := RequestIDFrom(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := ActorFrom(ctx); v != "" {
		fields = append(fields, zap.String("actor", v))
	}
	if v := TxIDFrom(ctx); v != "" {
		fields = append(fields, zap.String("tx_id", v))
	}
	return fields
}
