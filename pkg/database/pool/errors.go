package pool

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("pool: invalid config")

	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("pool: closed")

	// ErrAcquireTimeout 获取连接超时
	ErrAcquireTimeout = errors.New("pool: acquire timeout")

	// ErrRawQueryUnsupported 连接不支持原生查询
	ErrRawQueryUnsupported = errors.New("pool: connection does not support raw queries")

	// errPoolFull 空闲与活跃连接已达 MaxSize，新建的连接被丢弃
	errPoolFull = errors.New("pool: at capacity")

	// errPoolBusy 全部名额已借出
	errPoolBusy = errors.New("pool: no free slot")
)
