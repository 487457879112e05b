package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/web/middleware"
)

// Config HTTP 服务配置
type Config struct {
	Host string `mapstructure:"host" json:"host" yaml:"host"`
	// Port 为 0 时由系统分配
	Port            int           `mapstructure:"port" json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Mode            string        `mapstructure:"mode" json:"mode" yaml:"mode" validate:"omitempty,oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
	EnableTLS       bool          `mapstructure:"enable_tls" json:"enable_tls" yaml:"enable_tls"`
	CertFile        string        `mapstructure:"cert_file" json:"cert_file" yaml:"cert_file"`
	KeyFile         string        `mapstructure:"key_file" json:"key_file" yaml:"key_file"`

	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		RateLimit:       middleware.DefaultRateLimitConfig(),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.EnableTLS && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file are required with tls", ErrInvalidConfig)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w: rate_limit requires positive requests_per_second and burst", ErrInvalidConfig)
	}
	return nil
}

// Addr 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
