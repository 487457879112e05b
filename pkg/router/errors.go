package router

import "errors"

var (
	// ErrInvalidConfig 路由配置无效
	ErrInvalidConfig = errors.New("router: invalid config")

	// ErrDuplicateConnection 连接 id 已注册
	ErrDuplicateConnection = errors.New("router: duplicate connection")

	// ErrNoPrimary 主连接未注册
	ErrNoPrimary = errors.New("router: primary connection not registered")
)
