package pool

import (
	"context"
	"time"
)

// Conn 连接池管理的原生连接
type Conn interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RawQuerier 支持原生查询的连接
type RawQuerier interface {
	Query(ctx context.Context, text string, args ...any) ([]map[string]any, error)
}

// Connector 负责建立新连接
type Connector[C Conn] interface {
	Connect(ctx context.Context) (C, error)
}

// ConnectorFunc 函数形式的 Connector
type ConnectorFunc[C Conn] func(ctx context.Context) (C, error)

// Connect 实现 Connector
func (f ConnectorFunc[C]) Connect(ctx context.Context) (C, error) {
	return f(ctx)
}

// Rollbacker 持有连接的事务，连接池关闭时会被强制回滚
type Rollbacker interface {
	Rollback(ctx context.Context) error
}

// HealthStatus 连接健康状态
type HealthStatus string

const (
	StatusConnected    HealthStatus = "connected"
	StatusDisconnected HealthStatus = "disconnected"
	StatusConnecting   HealthStatus = "connecting"
	StatusError        HealthStatus = "error"
)

// Health 连接健康信息，只由健康检查任务更新
type Health struct {
	Status              HealthStatus  `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	LastError           string        `json:"last_error,omitempty"`
}

// Healthy 是否处于 connected 状态
func (h Health) Healthy() bool {
	return h.Status == StatusConnected
}

// Stats 连接池统计信息
type Stats struct {
	TotalQueries      int64         `json:"total_queries"`
	SuccessfulQueries int64         `json:"successful_queries"`
	FailedQueries     int64         `json:"failed_queries"`
	IdleConnections   int           `json:"idle_connections"`
	ActiveConnections int           `json:"active_connections"`
	WaitingRequests   int           `json:"waiting_requests"`
	AverageLatency    time.Duration `json:"average_latency"`
	MinSize           int           `json:"min_size"`
	MaxSize           int           `json:"max_size"`
}

// Monitor 只读的健康与统计视图
type Monitor interface {
	Health() Health
	Stats() Stats
}
