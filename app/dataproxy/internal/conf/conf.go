// Package conf dataproxy 服务的完整配置结构。
package conf

import (
	"fmt"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/dal"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/redis"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/mq/kafka"
	"github.com/lk2023060901/xdooria-dal/pkg/otel"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
	"github.com/lk2023060901/xdooria-dal/pkg/sentry"
	"github.com/lk2023060901/xdooria-dal/pkg/web"
)

// RoutingKey 路由配置在文件中的路径，热更新只重载这一段
const RoutingKey = "routing"

// Config dataproxy 服务配置
type Config struct {
	Log     logger.Config             `mapstructure:"log"`
	Loggers map[string]*logger.Config `mapstructure:"loggers"`

	// 物理连接
	Connections []adapter.ConnectionConfig `mapstructure:"connections" validate:"min=1,dive"`

	Routing router.RoutingConfig `mapstructure:"routing"`

	// 权限、审计、缓存与事务
	Service dal.Config `mapstructure:"service"`

	// Redis 二级缓存，为空时只使用进程内缓存
	Redis *redis.Config `mapstructure:"redis"`

	// Kafka 审计，service.audit.sink 为 kafka 时必填
	Kafka *kafka.Config `mapstructure:"kafka"`

	Web web.Config `mapstructure:"web"`

	// Auth 调用方 JWT 认证，启用后 actor 取自令牌
	Auth security.Config `mapstructure:"auth"`

	Prometheus prometheus.Config `mapstructure:"prometheus"`

	Tracing otel.Config `mapstructure:"tracing"`

	// Sentry 错误级别日志与 panic 上报
	Sentry sentry.Config `mapstructure:"sentry"`
}

var validate = config.NewValidator()

// Validate 校验连接、路由与各组件的交叉引用
func (c *Config) Validate() error {
	if err := validate.Validate(c); err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(c.Connections))
	for _, conn := range c.Connections {
		if _, dup := ids[conn.ID]; dup {
			return fmt.Errorf("conf: duplicate connection id %q", conn.ID)
		}
		ids[conn.ID] = struct{}{}
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := CheckRouting(&c.Routing, ids); err != nil {
		return err
	}

	if c.Service.Audit.Enabled && c.Service.Audit.Sink == "kafka" && c.Kafka == nil {
		return fmt.Errorf("conf: kafka config is required for the kafka audit sink")
	}
	return nil
}

// CheckRouting 路由引用的连接必须在 connections 中定义
func CheckRouting(r *router.RoutingConfig, ids map[string]struct{}) error {
	if _, ok := ids[r.Primary]; !ok {
		return fmt.Errorf("conf: routing primary %q is not a configured connection", r.Primary)
	}
	for _, id := range r.Fallbacks {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("conf: routing fallback %q is not a configured connection", id)
		}
	}
	for entity, id := range r.EntityMapping {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("conf: entity %q is mapped to unknown connection %q", entity, id)
		}
	}
	return nil
}

// ConnectionIDs 已配置的连接 id
func (c *Config) ConnectionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(c.Connections))
	for _, conn := range c.Connections {
		ids[conn.ID] = struct{}{}
	}
	return ids
}
