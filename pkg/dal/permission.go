package dal

import (
	"context"
	"slices"
	"strings"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

// PermissionChecker 权限决策由外部实现，服务只在调用适配器前询问
type PermissionChecker interface {
	CheckPermission(ctx context.Context, actor string, op Operation, entity string, conds adapter.Conditions) (bool, error)
}

// PermissionFunc 函数形式的 PermissionChecker
type PermissionFunc func(ctx context.Context, actor string, op Operation, entity string, conds adapter.Conditions) (bool, error)

// CheckPermission 实现 PermissionChecker
func (f PermissionFunc) CheckPermission(ctx context.Context, actor string, op Operation, entity string, conds adapter.Conditions) (bool, error) {
	return f(ctx, actor, op, entity, conds)
}

// AllowAll 放行所有请求
type AllowAll struct{}

// CheckPermission 实现 PermissionChecker
func (AllowAll) CheckPermission(context.Context, string, Operation, string, adapter.Conditions) (bool, error) {
	return true, nil
}

// Wildcard 规则中匹配任意操作者、实体或操作
const Wildcard = "*"

// Rule 静态授权规则
type Rule struct {
	Actor      string   `mapstructure:"actor" json:"actor" yaml:"actor" validate:"required"`
	Entity     string   `mapstructure:"entity" json:"entity" yaml:"entity" validate:"required"`
	Operations []string `mapstructure:"operations" json:"operations" yaml:"operations" validate:"min=1"`
}

func (r Rule) matches(actor string, op Operation, entity string) bool {
	if r.Actor != Wildcard && r.Actor != actor {
		return false
	}
	if r.Entity != Wildcard && r.Entity != entity {
		return false
	}
	return slices.ContainsFunc(r.Operations, func(o string) bool {
		return o == Wildcard || strings.EqualFold(o, string(op))
	})
}

// StaticChecker 按配置的规则授权，任一规则匹配即放行
type StaticChecker struct {
	rules []Rule
}

// NewStaticChecker 创建规则检查器
func NewStaticChecker(rules []Rule) *StaticChecker {
	return &StaticChecker{rules: slices.Clone(rules)}
}

// CheckPermission 实现 PermissionChecker
func (c *StaticChecker) CheckPermission(_ context.Context, actor string, op Operation, entity string, _ adapter.Conditions) (bool, error) {
	for _, r := range c.rules {
		if r.matches(actor, op, entity) {
			return true, nil
		}
	}
	return false, nil
}

// NewPermissionChecker 按配置创建检查器，没有规则时放行所有请求
func NewPermissionChecker(cfg PermissionConfig) PermissionChecker {
	if len(cfg.Rules) == 0 {
		return AllowAll{}
	}
	return NewStaticChecker(cfg.Rules)
}
