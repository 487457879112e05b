package compress

import (
	"fmt"

	"github.com/golang/snappy"
)

type snappyCompressor struct{}

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
	}
	return out, nil
}

func (snappyCompressor) Algorithm() Algorithm { return Snappy }
func (snappyCompressor) ID() byte             { return 1 }
