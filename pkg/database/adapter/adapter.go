// Package adapter 定义各存储引擎适配器的统一契约。
//
// 调用方只面对 Record / Conditions 这类与引擎无关的数据结构；每个引擎包
// (postgres / mysql / mongo / rest) 在 init 中注册自己的 Factory，由 Open
// 根据连接配置创建适配器。适配器本身不持有请求状态，只引用自己的连接池。
package adapter

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
)

// Record 一行/一个文档
type Record map[string]any

// Conditions 等值条件，多个键之间为 AND 关系
type Conditions map[string]any

// Direction 排序方向
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderBy 排序字段
type OrderBy struct {
	Field     string    `json:"field" validate:"required"`
	Direction Direction `json:"direction,omitempty" validate:"omitempty,oneof=ASC DESC asc desc"`
}

// FindOptions 查询选项
type FindOptions struct {
	Limit   int       `json:"limit,omitempty" validate:"gte=0"`
	Offset  int       `json:"offset,omitempty" validate:"gte=0"`
	OrderBy []OrderBy `json:"orderBy,omitempty" validate:"dive"`
}

// Executor 数据操作，适配器与事务共用
type Executor interface {
	Find(ctx context.Context, entity string, conds Conditions, opts FindOptions) ([]Record, error)
	// FindOne 没有匹配时返回 (nil, nil)
	FindOne(ctx context.Context, entity string, conds Conditions) (Record, error)
	Insert(ctx context.Context, entity string, data Record) (Record, error)
	InsertMany(ctx context.Context, entity string, data []Record) ([]Record, error)
	// Update 返回更新后的第一条记录，没有匹配时返回 NOT_FOUND
	Update(ctx context.Context, entity string, conds Conditions, data Record) (Record, error)
	// Delete soft 为 true 时写入 deleted_at 而非删除
	Delete(ctx context.Context, entity string, conds Conditions, soft bool) (bool, error)
	Count(ctx context.Context, entity string, conds Conditions) (int64, error)
	ExecuteRaw(ctx context.Context, query string, params ...any) ([]Record, error)
}

// Capabilities 引擎能力，查询不产生任何 I/O
type Capabilities interface {
	SupportsTransactions() bool
	SupportsNestedTransactions() bool
}

// IsolationLevel 事务隔离级别
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "READ_UNCOMMITTED"
	ReadCommitted   IsolationLevel = "READ_COMMITTED"
	RepeatableRead  IsolationLevel = "REPEATABLE_READ"
	Serializable    IsolationLevel = "SERIALIZABLE"
)

// TxOptions 开启事务的选项
type TxOptions struct {
	IsolationLevel   IsolationLevel `json:"isolationLevel,omitempty" validate:"omitempty,oneof=READ_UNCOMMITTED READ_COMMITTED REPEATABLE_READ SERIALIZABLE"`
	ReadOnly         bool           `json:"readOnly,omitempty"`
	StatementTimeout time.Duration  `json:"statementTimeout,omitempty" validate:"gte=0"`
}

// Tx 独占一个连接的原生事务。Commit 与 Rollback 都会归还连接
type Tx interface {
	Executor

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// Adapter 引擎适配器
type Adapter interface {
	Executor
	Capabilities
	pool.Monitor

	// Engine 引擎名称，用于错误信息与日志
	Engine() string

	BeginTx(ctx context.Context, opts TxOptions) (Tx, error)

	// Start 预热连接池并启动健康检查
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}
