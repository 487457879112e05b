package adapter

import (
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
)

// Provider 存储引擎类型
type Provider string

const (
	ProviderPostgres Provider = "postgres"
	ProviderMySQL    Provider = "mysql"
	ProviderMongoDB  Provider = "mongodb"
	ProviderREST     Provider = "rest"
)

// ConnectionConfig 单个连接配置
type ConnectionConfig struct {
	ID       string   `mapstructure:"id" json:"id" yaml:"id" validate:"required"`
	Provider Provider `mapstructure:"provider" json:"provider" yaml:"provider" validate:"required,oneof=postgres mysql mongodb rest"`

	Host     string `mapstructure:"host" json:"host" yaml:"host"`
	Port     int    `mapstructure:"port" json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user" json:"user" yaml:"user"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	Database string `mapstructure:"database" json:"database" yaml:"database"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode" yaml:"ssl_mode"`

	// URI 完整连接串，设置后优先于 host/port 等字段
	URI string `mapstructure:"uri" json:"uri" yaml:"uri"`

	// REST 后端
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url" validate:"required_if=Provider rest"`
	APIKey  string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`

	// 单次请求超时（REST 请求超时 / 连接建立超时）
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`

	// 加权路由时的权重
	Weight int `mapstructure:"weight" json:"weight" yaml:"weight" validate:"gte=0"`

	Pool pool.Config `mapstructure:"pool" json:"pool" yaml:"pool"`
}
