package otel

import (
	"fmt"
	"time"
)

// ExporterType 导出器类型
type ExporterType string

const (
	ExporterOTLPHTTP ExporterType = "otlp-http"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterStdout   ExporterType = "stdout"
	ExporterNoop     ExporterType = "noop"
)

// SamplerType 采样类型
type SamplerType string

const (
	SamplerAlways SamplerType = "always"
	SamplerNever  SamplerType = "never"
	SamplerRatio  SamplerType = "ratio"
	// SamplerParent 跟随上游决策，根 span 按 Ratio 采样
	SamplerParent SamplerType = "parent"
)

// Config 链路追踪配置
type Config struct {
	// Enabled 关闭时只安装传播器，span 不会被导出
	Enabled     bool              `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string            `mapstructure:"service_name" json:"service_name" yaml:"service_name" validate:"required_if=Enabled true"`
	Exporter    ExporterType      `mapstructure:"exporter" json:"exporter" yaml:"exporter" validate:"omitempty,oneof=otlp-http otlp-grpc stdout noop"`
	Endpoint    string            `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	Insecure    bool              `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
	Sampler     SamplerType       `mapstructure:"sampler" json:"sampler" yaml:"sampler" validate:"omitempty,oneof=always never ratio parent"`
	Ratio       float64           `mapstructure:"ratio" json:"ratio" yaml:"ratio" validate:"gte=0,lte=1"`
	Attributes  map[string]string `mapstructure:"attributes" json:"attributes" yaml:"attributes"`

	BatchTimeout    time.Duration `mapstructure:"batch_timeout" json:"batch_timeout" yaml:"batch_timeout"`
	MaxQueueSize    int           `mapstructure:"max_queue_size" json:"max_queue_size" yaml:"max_queue_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig 默认配置，追踪默认关闭
func DefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		ServiceName:     "dataproxy",
		Exporter:        ExporterOTLPHTTP,
		Endpoint:        "localhost:4318",
		Insecure:        true,
		Sampler:         SamplerParent,
		Ratio:           1,
		BatchTimeout:    5 * time.Second,
		MaxQueueSize:    2048,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidConfig)
	}
	if c.Ratio < 0 || c.Ratio > 1 {
		return fmt.Errorf("%w: ratio must be between 0 and 1", ErrInvalidConfig)
	}
	switch c.Exporter {
	case ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("%w: unsupported exporter %q", ErrInvalidConfig, c.Exporter)
	}
	return nil
}
