// Package bytebuff 复用编码过程中的临时缓冲区。
//
// 底层是 valyala/bytebufferpool，它会按使用情况自动校准缓冲区大小，
// 过大的缓冲区不会被放回池中。
package bytebuff

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

var (
	pool bytebufferpool.Pool

	gets atomic.Uint64
	puts atomic.Uint64
)

// Get 取出一个空缓冲区，用完必须 Put
func Get() *bytebufferpool.ByteBuffer {
	gets.Add(1)
	return pool.Get()
}

// Put 归还缓冲区，归还后不能再读取其内容
func Put(b *bytebufferpool.ByteBuffer) {
	if b == nil {
		return
	}
	puts.Add(1)
	pool.Put(b)
}

// Stats 返回累计的取出与归还次数
func Stats() (uint64, uint64) {
	return gets.Load(), puts.Load()
}
