package cache

import (
	"fmt"

	"github.com/lk2023060901/xdooria-dal/pkg/checksum"
	"github.com/lk2023060901/xdooria-dal/pkg/compress"
	"github.com/lk2023060901/xdooria-dal/pkg/serializer"
)

// L2 中每个值的布局:
//
//	[0]   格式版本
//	[1]   序列化格式标识
//	[2]   压缩算法标识，未压缩时为 0
//	[3]   校验算法标识
//	[4:8] 对之后全部字节的大端序校验和
//	[8:]  载荷
//
// 解码只依赖数据头，不同配置的实例可以共享同一个 redis。
const (
	envelopeVersion byte = 1
	headerSize           = 4
)

// CodecConfig L2 值编码配置
type CodecConfig struct {
	// Format 序列化格式: json, msgpack
	Format serializer.Format `mapstructure:"format" json:"format" yaml:"format"`
	// Compression 压缩算法: none, snappy, zstd, lz4
	Compression compress.Algorithm `mapstructure:"compression" json:"compression" yaml:"compression"`
	// CompressThreshold 序列化结果达到该字节数才压缩
	CompressThreshold int `mapstructure:"compress_threshold" json:"compress_threshold" yaml:"compress_threshold"`
	// Checksum 校验算法: crc32, crc32c, xxhash
	Checksum checksum.Algorithm `mapstructure:"checksum" json:"checksum" yaml:"checksum"`
}

type valueCodec struct {
	ser       serializer.Serializer
	comp      compress.Compressor
	hasher    *checksum.Hasher
	threshold int
}

func newValueCodec(cfg CodecConfig) (*valueCodec, error) {
	ser, err := serializer.New(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	algo, err := compress.Parse(string(cfg.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	comp, err := compress.New(algo)
	if err != nil {
		return nil, err
	}
	hasher, err := checksum.New(cfg.Checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &valueCodec{ser: ser, comp: comp, hasher: hasher, threshold: cfg.CompressThreshold}, nil
}

func (c *valueCodec) encode(v any) ([]byte, error) {
	payload, err := c.ser.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}

	compID := byte(0)
	if c.comp.Algorithm() != compress.None && len(payload) >= c.threshold {
		packed, err := c.comp.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		// 压缩无收益时保存原文
		if len(packed) < len(payload) {
			payload = packed
			compID = c.comp.ID()
		}
	}

	out := make([]byte, 0, headerSize+checksum.Size+len(payload))
	out = append(out, envelopeVersion, c.ser.ID(), compID, c.hasher.ID())
	return c.hasher.Seal(out, payload), nil
}

func (c *valueCodec) decode(data []byte, v any) error {
	if len(data) < headerSize+checksum.Size {
		return fmt.Errorf("%w: value too short", ErrCodec)
	}
	if data[0] != envelopeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCodec, data[0])
	}
	ser, err := serializer.ByID(data[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	comp, err := compress.ByID(data[2])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	hasher, err := checksum.ByID(data[3])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}

	payload, err := hasher.Open(data[headerSize:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	if payload, err = comp.Decompress(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	if err := ser.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return nil
}
