package compress

import "errors"

var (
	// ErrUnknownAlgorithm 未知的压缩算法
	ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")
	// ErrCorrupt 数据无法解压
	ErrCorrupt = errors.New("compress: corrupt input")
)
