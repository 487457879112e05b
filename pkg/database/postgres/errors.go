package postgres

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("postgres: invalid config")

	// ErrTxDone 事务已提交或已回滚
	ErrTxDone = errors.New("postgres: transaction already finished")
)

// engine 错误信息中的引擎名
const engine = "PostgreSQL"

var errNoRowReturned = errors.New("no row returned")
