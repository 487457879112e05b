package mysql

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("mysql: invalid config")

	// ErrTxDone 事务已提交或已回滚
	ErrTxDone = errors.New("mysql: transaction already finished")
)

const engine = "MySQL"
