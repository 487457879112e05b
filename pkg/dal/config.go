package dal

import (
	"fmt"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/cache"
	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

// FailurePolicy 权限检查器出错时的处理方式
type FailurePolicy string

const (
	// FailClosed 检查出错时拒绝
	FailClosed FailurePolicy = "fail_closed"
	// FailOpen 检查出错时放行
	FailOpen FailurePolicy = "fail_open"
)

// PermissionConfig 权限检查配置
type PermissionConfig struct {
	Policy FailurePolicy `mapstructure:"policy" json:"policy" yaml:"policy" validate:"omitempty,oneof=fail_closed fail_open"`
	// Rules 为空时放行所有请求
	Rules []Rule `mapstructure:"rules" json:"rules" yaml:"rules" validate:"dive"`
}

// AuditConfig 审计配置
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// Sink log 或 kafka
	Sink  string `mapstructure:"sink" json:"sink" yaml:"sink" validate:"omitempty,oneof=log kafka"`
	Topic string `mapstructure:"topic" json:"topic" yaml:"topic" validate:"required_if=Sink kafka"`
	// Workers 异步写审计的协程数
	Workers int `mapstructure:"workers" json:"workers" yaml:"workers" validate:"gte=0"`
	// Timeout 单条审计写入超时
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" validate:"gte=0"`
	// MachineID 审计 ID 中的实例号，多实例部署时必须各不相同
	MachineID uint16 `mapstructure:"machine_id" json:"machine_id" yaml:"machine_id"`
}

// Config 服务配置
type Config struct {
	Permission PermissionConfig `mapstructure:"permission" json:"permission" yaml:"permission"`
	Audit      AuditConfig      `mapstructure:"audit" json:"audit" yaml:"audit"`
	// Cache 为空时使用缓存默认配置
	Cache       *cache.Config       `mapstructure:"cache" json:"cache" yaml:"cache"`
	Transaction *transaction.Config `mapstructure:"transaction" json:"transaction" yaml:"transaction"`
	// MetricsInterval 连接池指标刷新间隔
	MetricsInterval time.Duration `mapstructure:"metrics_interval" json:"metrics_interval" yaml:"metrics_interval" validate:"gte=0"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Permission: PermissionConfig{Policy: FailClosed},
		Audit: AuditConfig{
			Enabled: true,
			Sink:    "log",
			Workers: 16,
			Timeout: 5 * time.Second,
		},
		MetricsInterval: 15 * time.Second,
	}
}

var validate = config.NewValidator()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Validate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func mergeConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return DefaultConfig(), nil
	}
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	// 布尔零值无法与未设置区分，以调用方为准
	merged.Audit.Enabled = cfg.Audit.Enabled
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
