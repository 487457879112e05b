package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
)

// canonical 输出排序后的对象键，保证相同内容得到相同字节
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Key 缓存键。Operation 与 Entity 用于失效登记，ID 是实际存储的键
type Key struct {
	Operation string
	Entity    string
	ID        string
}

// String 实现 fmt.Stringer
func (k Key) String() string {
	return k.ID
}

// BuildKey 由操作、实体、条件与选项计算确定性的缓存键。
// 条件和选项先规范化为按键排序的 JSON 再取 xxhash 摘要，
// 字段书写顺序不同但内容相同的请求得到同一个键
func BuildKey(prefix, operation, entity string, conditions, options any) (Key, error) {
	if operation == "" || entity == "" {
		return Key{}, fmt.Errorf("%w: operation and entity are required", ErrInvalidKey)
	}
	conds, err := canonicalize(conditions)
	if err != nil {
		return Key{}, fmt.Errorf("%w: conditions: %v", ErrInvalidKey, err)
	}
	opts, err := canonicalize(options)
	if err != nil {
		return Key{}, fmt.Errorf("%w: options: %v", ErrInvalidKey, err)
	}

	op := strings.ToLower(operation)
	d := xxhash.New()
	_, _ = d.WriteString(op)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(entity)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(conds)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(opts)

	return Key{
		Operation: op,
		Entity:    entity,
		ID:        prefix + ":" + op + ":" + entity + ":" + strconv.FormatUint(d.Sum64(), 16),
	}, nil
}

// canonicalize 结构体先转为通用结构，再以排序键重新编码
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := canonical.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return canonical.Marshal(generic)
}
