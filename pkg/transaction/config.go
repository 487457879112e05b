package transaction

import (
	"fmt"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
)

// Config 事务管理器配置
type Config struct {
	// DefaultTimeout 未指定超时时使用
	DefaultTimeout time.Duration `mapstructure:"default_timeout" json:"default_timeout" yaml:"default_timeout"`
	// MaxTimeout 调用方指定的超时上限
	MaxTimeout time.Duration `mapstructure:"max_timeout" json:"max_timeout" yaml:"max_timeout"`
	// RollbackTimeout 超时回滚、关闭时回滚使用的独立超时
	RollbackTimeout time.Duration `mapstructure:"rollback_timeout" json:"rollback_timeout" yaml:"rollback_timeout"`
	// HistorySize 保留多少个已结束事务供查询
	HistorySize int `mapstructure:"history_size" json:"history_size" yaml:"history_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:  30 * time.Second,
		MaxTimeout:      5 * time.Minute,
		RollbackTimeout: 5 * time.Second,
		HistorySize:     1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("transaction: default_timeout must be positive")
	}
	if c.MaxTimeout < c.DefaultTimeout {
		return fmt.Errorf("transaction: max_timeout must be >= default_timeout")
	}
	if c.RollbackTimeout <= 0 {
		return fmt.Errorf("transaction: rollback_timeout must be positive")
	}
	return nil
}

func mergeConfig(cfg *Config) (*Config, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
