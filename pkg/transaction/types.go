package transaction

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

// State 事务状态
type State string

const (
	StatePending    State = "PENDING"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
	StateError      State = "ERROR"
)

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s != StatePending
}

// Options 开启事务的选项
type Options struct {
	IsolationLevel   adapter.IsolationLevel `json:"isolationLevel,omitempty" validate:"omitempty,oneof=READ_UNCOMMITTED READ_COMMITTED REPEATABLE_READ SERIALIZABLE"`
	ReadOnly         bool                   `json:"readOnly,omitempty"`
	Timeout          time.Duration          `json:"timeout,omitempty" validate:"gte=0"`
	StatementTimeout time.Duration          `json:"statementTimeout,omitempty" validate:"gte=0"`
}

// Operation 在事务连接上执行的操作
type Operation func(ctx context.Context, exec adapter.Executor) (any, error)

// Info 事务快照
type Info struct {
	ID              string                 `json:"id"`
	Connection      string                 `json:"connection"`
	State           State                  `json:"state"`
	IsolationLevel  adapter.IsolationLevel `json:"isolationLevel,omitempty"`
	ReadOnly        bool                   `json:"readOnly"`
	StartedAt       time.Time              `json:"startedAt"`
	EndedAt         time.Time              `json:"endedAt,omitempty"`
	Deadline        time.Time              `json:"deadline"`
	OperationsCount int                    `json:"operationsCount"`
	Savepoints      []string               `json:"savepoints,omitempty"`
	TimedOut        bool                   `json:"timedOut,omitempty"`
}

// Stats 管理器统计
type Stats struct {
	Active     int   `json:"active"`
	Committed  int64 `json:"committed"`
	RolledBack int64 `json:"rolledBack"`
	Errored    int64 `json:"errored"`
	TimedOut   int64 `json:"timedOut"`
}

// FinishHook 事务进入终态后调用，不持有任何锁
type FinishHook func(info Info)
