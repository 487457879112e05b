// Package serializer 提供缓存值的序列化格式。
package serializer

import (
	"errors"
	"fmt"
	"strings"
)

// Format 序列化格式名称
type Format string

const (
	JSON    Format = "json"
	Msgpack Format = "msgpack"
)

// ErrUnknownFormat 未知的序列化格式
var ErrUnknownFormat = errors.New("serializer: unknown format")

// Serializer 序列化器，实现必须可并发使用
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Format() Format
	// ID 写入数据头的格式标识
	ID() byte
}

var serializers = []Serializer{jsonSerializer{}, msgpackSerializer{}}

// New 按名称获取序列化器，空串使用 json
func New(f Format) (Serializer, error) {
	name := Format(strings.ToLower(string(f)))
	if name == "" {
		name = JSON
	}
	for _, s := range serializers {
		if s.Format() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// ByID 按数据头中的标识获取序列化器
func ByID(id byte) (Serializer, error) {
	for _, s := range serializers {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownFormat, id)
}
