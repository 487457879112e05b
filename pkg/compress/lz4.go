package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/lk2023060901/xdooria-dal/pkg/pool/bytebuff"
)

// lz4Compressor 使用帧格式，帧头自带原始长度，解压时无需猜测缓冲区大小
type lz4Compressor struct{}

func (lz4Compressor) Compress(src []byte) ([]byte, error) {
	buf := bytebuff.Get()
	defer bytebuff.Put(buf)

	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	return bytes.Clone(buf.B), nil
}

func (lz4Compressor) Decompress(src []byte) ([]byte, error) {
	buf := bytebuff.Get()
	defer bytebuff.Put(buf)

	if _, err := io.Copy(buf, lz4.NewReader(bytes.NewReader(src))); err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	return bytes.Clone(buf.B), nil
}

func (lz4Compressor) Algorithm() Algorithm { return LZ4 }
func (lz4Compressor) ID() byte             { return 3 }
