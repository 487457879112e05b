package transaction

import "errors"

var (
	// ErrNotFound 事务不存在或已结束
	ErrNotFound = errors.New("transaction: not found")

	// ErrNotPending 事务已处于终态
	ErrNotPending = errors.New("transaction: not pending")

	// ErrSavepointNotFound 保存点不属于该事务
	ErrSavepointNotFound = errors.New("transaction: savepoint not found")

	// ErrManagerClosed 管理器已关闭
	ErrManagerClosed = errors.New("transaction: manager closed")
)
