package dal

import (
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

// Operation 通用操作
type Operation string

const (
	OpFind       Operation = "FIND"
	OpFindOne    Operation = "FIND_ONE"
	OpInsert     Operation = "INSERT"
	OpInsertMany Operation = "INSERT_MANY"
	OpUpdate     Operation = "UPDATE"
	OpDelete     Operation = "DELETE"
	OpCount      Operation = "COUNT"
	OpRaw        Operation = "RAW"
)

// Operations 全部操作
func Operations() []Operation {
	return []Operation{OpFind, OpFindOne, OpInsert, OpInsertMany, OpUpdate, OpDelete, OpCount, OpRaw}
}

// Valid 是否为已知操作
func (o Operation) Valid() bool {
	switch o {
	case OpFind, OpFindOne, OpInsert, OpInsertMany, OpUpdate, OpDelete, OpCount, OpRaw:
		return true
	}
	return false
}

// Write 是否修改数据。RAW 无法判断，按写操作处理
func (o Operation) Write() bool {
	switch o {
	case OpInsert, OpInsertMany, OpUpdate, OpDelete, OpRaw:
		return true
	}
	return false
}

// Cacheable 结果可以缓存的操作
func (o Operation) Cacheable() bool {
	switch o {
	case OpFind, OpFindOne, OpCount:
		return true
	}
	return false
}

// Request 一次数据访问请求
type Request struct {
	Operation  Operation          `json:"operation" validate:"required"`
	Entity     string             `json:"entity,omitempty"`
	Conditions adapter.Conditions `json:"conditions,omitempty"`
	// Payload INSERT/UPDATE 为对象，INSERT_MANY 为对象数组
	Payload any                 `json:"payload,omitempty"`
	Options adapter.FindOptions `json:"options,omitempty"`
	// SoftDelete DELETE 时写入 deleted_at 而非删除
	SoftDelete bool `json:"softDelete,omitempty"`

	// Query/Params 仅用于 RAW
	Query  string `json:"query,omitempty"`
	Params []any  `json:"params,omitempty"`

	Actor string `json:"actor,omitempty"`

	// TransactionID 在已开启的事务中执行
	TransactionID string `json:"transactionId,omitempty"`
	// TransactionOptions 非空时为本次请求开启新事务
	TransactionOptions *transaction.Options `json:"transactionOptions,omitempty"`
	// AutoCommit 新开启的事务在操作成功后立即提交
	AutoCommit bool `json:"autoCommit,omitempty"`
}

// Metadata 响应元数据
type Metadata struct {
	ExecutionTime time.Duration `json:"executionTime"`
	Cached        bool          `json:"cached"`
	Connection    string        `json:"connection,omitempty"`
	// TransactionID 操作所在事务，未自动提交时调用方用它继续操作
	TransactionID string `json:"transactionId,omitempty"`
}

// Response 请求结果
type Response struct {
	Data     any      `json:"data"`
	Count    *int64   `json:"count,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// result 适配器返回值，也是缓存中保存的值
type result struct {
	Records []adapter.Record `json:"records,omitempty"`
	Record  adapter.Record   `json:"record,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
	Count   *int64           `json:"count,omitempty"`
}

func (r *result) data(op Operation) any {
	switch op {
	case OpFind, OpInsertMany, OpRaw:
		if r.Records == nil {
			return []adapter.Record{}
		}
		return r.Records
	case OpFindOne, OpInsert, OpUpdate:
		if r.Record == nil {
			return nil
		}
		return r.Record
	case OpDelete:
		return r.Deleted
	case OpCount:
		return *r.Count
	}
	return nil
}
