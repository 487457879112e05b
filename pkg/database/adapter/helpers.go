package adapter

import (
	"strings"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// SoftDeleteColumn 软删除写入的列
const SoftDeleteColumn = "deleted_at"

// 操作名，用于错误信息 "<Engine> <operation> error: ..."
const (
	OpFind       = "find"
	OpFindOne    = "findOne"
	OpInsert     = "insert"
	OpInsertMany = "insertMany"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpCount      = "count"
	OpRaw        = "executeRaw"
	OpBegin      = "beginTransaction"
	OpCommit     = "commit"
	OpRollback   = "rollback"
	OpSavepoint  = "savepoint"
)

// Wrap 将驱动错误转换为 QUERY_ERROR
func Wrap(engine, operation string, err error) error {
	return dberrors.Query(engine, operation, err)
}

// Normalize 统一排序方向为 ASC/DESC，未知方向按 ASC 处理
func (o OrderBy) Normalize() OrderBy {
	if strings.EqualFold(string(o.Direction), string(Desc)) {
		o.Direction = Desc
	} else {
		o.Direction = Asc
	}
	return o
}

// SoftDeleteData 软删除时写入的数据
func SoftDeleteData(now time.Time) Record {
	return Record{SoftDeleteColumn: now.UTC()}
}

// Merge 返回 conds 被 data 覆盖后的条件，用于更新后回查
func Merge(conds Conditions, data Record) Conditions {
	out := make(Conditions, len(conds)+len(data))
	for k, v := range conds {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
