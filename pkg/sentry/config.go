package sentry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config Sentry 配置
type Config struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn" mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `json:"environment" yaml:"environment" mapstructure:"environment"`
	Release     string  `json:"release" yaml:"release" mapstructure:"release"`
	ServerName  string  `json:"server_name" yaml:"server_name" mapstructure:"server_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	// MinLevel 日志钩子上报的最低级别: error, dpanic, panic, fatal
	MinLevel     string            `json:"min_level" yaml:"min_level" mapstructure:"min_level"`
	FlushTimeout time.Duration     `json:"flush_timeout" yaml:"flush_timeout" mapstructure:"flush_timeout"`
	Tags         map[string]string `json:"tags" yaml:"tags" mapstructure:"tags"`
	Debug        bool              `json:"debug" yaml:"debug" mapstructure:"debug"`
	AttachStack  bool              `json:"attach_stacktrace" yaml:"attach_stacktrace" mapstructure:"attach_stacktrace"`
}

// DefaultConfig 默认配置，上报默认关闭
func DefaultConfig() *Config {
	return &Config{
		Environment:  "production",
		SampleRate:   1.0,
		MinLevel:     "error",
		FlushTimeout: 2 * time.Second,
		AttachStack:  true,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate must be between 0 and 1", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) clientOptions() sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:              c.DSN,
		Environment:      c.Environment,
		Release:          c.Release,
		ServerName:       c.ServerName,
		SampleRate:       c.SampleRate,
		AttachStacktrace: c.AttachStack,
		Debug:            c.Debug,
	}
}
