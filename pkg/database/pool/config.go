package pool

import (
	"fmt"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
)

// Config 连接池配置
type Config struct {
	MinSize        *int          `mapstructure:"min_size" json:"min_size" yaml:"min_size"`                      // 最小连接数（启动时预热），0 表示不预热
	MaxSize        int           `mapstructure:"max_size" json:"max_size" yaml:"max_size"`                      // 最大连接数
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout" yaml:"acquire_timeout"` // 获取连接超时

	// 间隔为负数时不注册对应任务
	HealthCheckInterval  time.Duration `mapstructure:"health_check_interval" json:"health_check_interval" yaml:"health_check_interval"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout" json:"health_check_timeout" yaml:"health_check_timeout"`
	MaxReconnectAttempts *int          `mapstructure:"max_reconnect_attempts" json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"` // 0 表示失败后不重连
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay" yaml:"reconnect_delay"`                      // 首次重连延迟
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay" json:"max_reconnect_delay" yaml:"max_reconnect_delay"`          // 重连延迟上限

	// 容量评估（只作用于空闲连接）
	SizingInterval  time.Duration `mapstructure:"sizing_interval" json:"sizing_interval" yaml:"sizing_interval"`
	GrowthFactor    float64       `mapstructure:"growth_factor" json:"growth_factor" yaml:"growth_factor"`
	GrowIdleRatio   float64       `mapstructure:"grow_idle_ratio" json:"grow_idle_ratio" yaml:"grow_idle_ratio"`       // 空闲占比低于该值时扩容
	ShrinkIdleRatio float64       `mapstructure:"shrink_idle_ratio" json:"shrink_idle_ratio" yaml:"shrink_idle_ratio"` // 空闲占比高于该值时缩容

	// 延迟统计保留的样本数
	LatencyWindow int `mapstructure:"latency_window" json:"latency_window" yaml:"latency_window"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MinSize:              Int(2),
		MaxSize:              10,
		AcquireTimeout:       5 * time.Second,
		HealthCheckInterval:  30 * time.Second,
		HealthCheckTimeout:   5 * time.Second,
		MaxReconnectAttempts: Int(5),
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		SizingInterval:       time.Minute,
		GrowthFactor:         1.5,
		GrowIdleRatio:        0.1,
		ShrinkIdleRatio:      0.5,
		LatencyWindow:        100,
	}
}

// Int 返回 v 的指针，用于显式设置可以为 0 的字段
func Int(v int) *int {
	return &v
}

// Min 最小连接数
func (c *Config) Min() int {
	if c.MinSize == nil {
		return 0
	}
	return *c.MinSize
}

// ReconnectAttempts 重连预算
func (c *Config) ReconnectAttempts() int {
	if c.MaxReconnectAttempts == nil {
		return 0
	}
	return *c.MaxReconnectAttempts
}

// MergeConfig 合并配置
func MergeConfig(dst, src *Config) (*Config, error) {
	return config.MergeConfig(dst, src)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max_size must be at least 1", ErrInvalidConfig)
	}
	if c.Min() < 0 || c.Min() > c.MaxSize {
		return fmt.Errorf("%w: min_size must be within [0, max_size]", ErrInvalidConfig)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire_timeout must be positive", ErrInvalidConfig)
	}
	if c.ReconnectAttempts() < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", ErrInvalidConfig)
	}
	if c.GrowthFactor <= 1 {
		return fmt.Errorf("%w: growth_factor must be greater than 1", ErrInvalidConfig)
	}
	return nil
}
