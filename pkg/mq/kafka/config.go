package kafka

import (
	"fmt"
	"time"
)

// Config Kafka 生产者配置
type Config struct {
	Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`

	Producer ProducerConfig `json:"producer" yaml:"producer" mapstructure:"producer"`

	SASL *SASLConfig `json:"sasl,omitempty" yaml:"sasl,omitempty" mapstructure:"sasl"`
	TLS  *TLSConfig  `json:"tls,omitempty" yaml:"tls,omitempty" mapstructure:"tls"`
}

// ProducerConfig 写入参数
type ProducerConfig struct {
	// Async 异步写入时 WriteMessages 立即返回，错误只能通过日志观察
	Async        bool          `json:"async" yaml:"async" mapstructure:"async"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout" mapstructure:"batch_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RequiredAcks 0 不等待，1 等待 leader，-1 等待全部副本
	RequiredAcks int `json:"required_acks" yaml:"required_acks" mapstructure:"required_acks"`

	// Compression none, gzip, snappy, lz4, zstd
	Compression  string        `json:"compression" yaml:"compression" mapstructure:"compression"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
}

// SASLConfig SASL 认证
type SASLConfig struct {
	// Mechanism PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Mechanism string `json:"mechanism" yaml:"mechanism" mapstructure:"mechanism"`
	Username  string `json:"username" yaml:"username" mapstructure:"username"`
	Password  string `json:"password" yaml:"password" mapstructure:"password"`
}

// TLSConfig TLS 连接
type TLSConfig struct {
	Enable             bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	CertFile           string `json:"cert_file" yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile            string `json:"key_file" yaml:"key_file" mapstructure:"key_file"`
	CAFile             string `json:"ca_file" yaml:"ca_file" mapstructure:"ca_file"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Brokers: []string{"localhost:9092"},
		Producer: ProducerConfig{
			BatchSize:    100,
			BatchTimeout: 200 * time.Millisecond,
			MaxRetries:   3,
			RequiredAcks: 1,
			Compression:  "snappy",
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	switch c.Producer.RequiredAcks {
	case -1, 0, 1:
	default:
		return fmt.Errorf("%w: required_acks must be -1, 0 or 1", ErrInvalidConfig)
	}
	switch c.Producer.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Producer.Compression)
	}
	if c.SASL != nil {
		switch c.SASL.Mechanism {
		case "", "PLAIN", "plain", "SCRAM-SHA-256", "scram-sha-256", "SCRAM-SHA-512", "scram-sha-512":
		default:
			return fmt.Errorf("%w: unknown sasl mechanism %q", ErrInvalidConfig, c.SASL.Mechanism)
		}
	}
	return nil
}
