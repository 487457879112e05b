// Package checksum 为缓存中的序列化数据附加校验和，读取时发现损坏的条目。
package checksum

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Size 校验和占用的字节数
const Size = 4

// Algorithm 校验算法
type Algorithm string

const (
	CRC32  Algorithm = "crc32"
	CRC32C Algorithm = "crc32c"
	XXHash Algorithm = "xxhash"
)

var (
	// ErrUnknownAlgorithm 未知的校验算法
	ErrUnknownAlgorithm = errors.New("checksum: unknown algorithm")
	// ErrMismatch 校验和不一致
	ErrMismatch = errors.New("checksum: mismatch")
	// ErrShort 数据短于校验和长度
	ErrShort = errors.New("checksum: input too short")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Hasher 计算 32 位校验和
type Hasher struct {
	algo Algorithm
	id   byte
	sum  func([]byte) uint32
}

var hashers = []*Hasher{
	{algo: CRC32, id: 1, sum: crc32.ChecksumIEEE},
	{algo: CRC32C, id: 2, sum: func(b []byte) uint32 { return crc32.Checksum(b, castagnoli) }},
	{algo: XXHash, id: 3, sum: func(b []byte) uint32 { return uint32(xxhash.Sum64(b)) }},
}

// New 按名称获取校验器，空串使用 crc32c
func New(name Algorithm) (*Hasher, error) {
	a := Algorithm(strings.ToLower(string(name)))
	if a == "" {
		a = CRC32C
	}
	for _, h := range hashers {
		if h.algo == a {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// ByID 按数据头中的标识获取校验器
func ByID(id byte) (*Hasher, error) {
	for _, h := range hashers {
		if h.id == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownAlgorithm, id)
}

// Algorithm 算法名称
func (h *Hasher) Algorithm() Algorithm { return h.algo }

// ID 写入数据头的算法标识
func (h *Hasher) ID() byte { return h.id }

// Sum 计算校验和
func (h *Hasher) Sum(data []byte) uint32 { return h.sum(data) }

// Seal 在 data 前追加大端序校验和
func (h *Hasher) Seal(dst, data []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, h.sum(data))
	return append(dst, data...)
}

// Open 校验并去掉 Seal 追加的校验和
func (h *Hasher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Size {
		return nil, ErrShort
	}
	want := binary.BigEndian.Uint32(sealed[:Size])
	data := sealed[Size:]
	if got := h.sum(data); got != want {
		return nil, fmt.Errorf("%w: %s want %08x got %08x", ErrMismatch, h.algo, want, got)
	}
	return data, nil
}
