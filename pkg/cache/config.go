package cache

import (
	"fmt"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/cache/fifo"
	"github.com/lk2023060901/xdooria-dal/pkg/checksum"
	"github.com/lk2023060901/xdooria-dal/pkg/compress"
	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/serializer"
)

// Config 多级缓存配置
type Config struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// KeyPrefix 键前缀，多个服务共用一个 redis 时用于隔离
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
	// L1 进程内缓存
	L1 fifo.Config `mapstructure:"l1" json:"l1" yaml:"l1"`
	// L2TTL 共享缓存中条目的过期时间，与 L1 相互独立
	L2TTL time.Duration `mapstructure:"l2_ttl" json:"l2_ttl" yaml:"l2_ttl"`
	// L2Codec L2 中值的序列化、压缩与校验方式
	L2Codec CodecConfig `mapstructure:"l2_codec" json:"l2_codec" yaml:"l2_codec"`
	// CleanupInterval 过期条目清理周期，0 表示只做惰性清理
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		KeyPrefix: "dal",
		L1: fifo.Config{
			MaxSize:    1000,
			DefaultTTL: 5 * time.Minute,
		},
		L2TTL: 10 * time.Minute,
		L2Codec: CodecConfig{
			Format:            serializer.JSON,
			Compression:       compress.Snappy,
			CompressThreshold: 1024,
			Checksum:          checksum.CRC32C,
		},
		CleanupInterval: time.Minute,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: key_prefix is required", ErrInvalidConfig)
	}
	if c.L1.MaxSize <= 0 {
		return fmt.Errorf("%w: l1.max_size must be positive", ErrInvalidConfig)
	}
	if c.L2Codec.CompressThreshold < 0 {
		return fmt.Errorf("%w: l2_codec.compress_threshold must not be negative", ErrInvalidConfig)
	}
	if _, err := newValueCodec(c.L2Codec); err != nil {
		return err
	}
	if c.L1.DefaultTTL < 0 || c.L2TTL < 0 || c.CleanupInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

func mergeConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return DefaultConfig(), nil
	}
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge cache config: %w", err)
	}
	// Enabled 的零值有意义，不能被默认值覆盖
	merged.Enabled = cfg.Enabled
	return merged, nil
}
