package cache

import "errors"

var (
	ErrInvalidConfig = errors.New("cache: invalid config")
	ErrInvalidKey    = errors.New("cache: invalid key")
	// ErrCodec L2 中的值无法编码或解码
	ErrCodec = errors.New("cache: l2 value codec")
)
