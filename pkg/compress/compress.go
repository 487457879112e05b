// Package compress 提供缓存值使用的压缩算法。
//
// 每种算法有一个名称（用于配置）和一个单字节标识（写入编码后的数据头），
// 读取时按数据头选择算法，配置变更不影响已写入的数据。
package compress

import (
	"fmt"
	"strings"
)

// Algorithm 压缩算法名称
type Algorithm string

const (
	None   Algorithm = "none"
	Snappy Algorithm = "snappy"
	Zstd   Algorithm = "zstd"
	LZ4    Algorithm = "lz4"
)

// Compressor 压缩器，实现必须可并发使用
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Algorithm() Algorithm
	// ID 写入数据头的算法标识
	ID() byte
}

var byName = map[Algorithm]func() (Compressor, error){
	None:   func() (Compressor, error) { return noneCompressor{}, nil },
	Snappy: func() (Compressor, error) { return snappyCompressor{}, nil },
	Zstd:   newZstdCompressor,
	LZ4:    func() (Compressor, error) { return lz4Compressor{}, nil },
}

var byID = map[byte]Algorithm{
	0: None,
	1: Snappy,
	2: Zstd,
	3: LZ4,
}

// Parse 解析算法名称，空串视为 none
func Parse(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if a == "" {
		return None, nil
	}
	if _, ok := byName[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// New 创建指定算法的压缩器
func New(a Algorithm) (Compressor, error) {
	factory, ok := byName[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
	}
	return factory()
}

// ByID 按数据头中的标识创建压缩器
func ByID(id byte) (Compressor, error) {
	a, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownAlgorithm, id)
	}
	return New(a)
}
