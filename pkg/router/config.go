package router

import (
	"fmt"
	"maps"
	"slices"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
)

var validate = config.NewValidator()

// Strategy 路由策略
type Strategy string

const (
	// StrategyPrimary 总是主连接，不看健康状态
	StrategyPrimary Strategy = "PRIMARY"
	// StrategyFallback 主连接不健康时按顺序选第一个健康的备用连接
	StrategyFallback Strategy = "FALLBACK"
	// StrategyLoadBalance 选累计查询数最少的候选
	StrategyLoadBalance Strategy = "LOAD_BALANCE"
	// StrategyRoundRobin 在候选间轮询
	StrategyRoundRobin Strategy = "ROUND_ROBIN"
	// StrategyWeighted 按连接权重平滑加权轮询
	StrategyWeighted Strategy = "WEIGHTED"
	// StrategyConsistentHash 按实体名一致性哈希
	StrategyConsistentHash Strategy = "CONSISTENT_HASH"
)

// Strategies 全部策略
func Strategies() []Strategy {
	return []Strategy{
		StrategyPrimary, StrategyFallback, StrategyLoadBalance,
		StrategyRoundRobin, StrategyWeighted, StrategyConsistentHash,
	}
}

// RoutingConfig 路由配置，整体替换生效
type RoutingConfig struct {
	Primary   string   `mapstructure:"primary" json:"primary" yaml:"primary" validate:"required"`
	Fallbacks []string `mapstructure:"fallbacks" json:"fallbacks" yaml:"fallbacks" validate:"dive,required"`
	Strategy  Strategy `mapstructure:"strategy" json:"strategy" yaml:"strategy" validate:"omitempty,oneof=PRIMARY FALLBACK LOAD_BALANCE ROUND_ROBIN WEIGHTED CONSISTENT_HASH"`
	// EntityMapping 实体固定路由到指定连接，优先于策略
	EntityMapping map[string]string `mapstructure:"entity_mapping" json:"entity_mapping" yaml:"entity_mapping"`
}

// Validate 校验并补齐默认策略
func (c *RoutingConfig) Validate() error {
	if c.Strategy == "" {
		c.Strategy = StrategyPrimary
	}
	if err := validate.Validate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if slices.Contains(c.Fallbacks, c.Primary) {
		return fmt.Errorf("%w: primary %q is also listed as fallback", ErrInvalidConfig, c.Primary)
	}
	return nil
}

// clone 深拷贝，避免调用方修改已生效的配置
func (c RoutingConfig) clone() RoutingConfig {
	c.Fallbacks = slices.Clone(c.Fallbacks)
	c.EntityMapping = maps.Clone(c.EntityMapping)
	return c
}
