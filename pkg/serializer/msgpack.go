package serializer

import (
	"bytes"
	"reflect"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/lk2023060901/xdooria-dal/pkg/pool/bytebuff"
)

// 解码为 any 时使用 map[string]any 与 string，与 JSON 的结果形状一致
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.RawToString = true
	h.WriteExt = true
	return h
}()

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(v any) ([]byte, error) {
	buf := bytebuff.Get()
	defer bytebuff.Put(buf)

	if err := codec.NewEncoder(buf, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.B), nil
}

func (msgpackSerializer) Unmarshal(data []byte, v any) error {
	return codec.NewDecoderBytes(data, msgpackHandle).Decode(v)
}

func (msgpackSerializer) Format() Format { return Msgpack }
func (msgpackSerializer) ID() byte       { return 2 }
