package mongo

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("mongo: invalid config")

	// ErrTxDone 事务已提交或已回滚
	ErrTxDone = errors.New("mongo: transaction already finished")

	// ErrRawParams 原生命令不接受绑定参数
	ErrRawParams = errors.New("mongo: raw commands take no bind parameters")
)

const engine = "MongoDB"
