// Package security 数据接口的调用方身份认证。
//
// 启用后每个请求需携带 Bearer JWT，actor 取自令牌声明并覆盖请求体中的 actor，
// 权限判定仍由 dal 的权限检查器完成。
package security

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config 认证配置
type Config struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`

	// 签名算法（默认 HS256）
	// 支持：HS256, HS384, HS512, RS256, RS384, RS512, ES256, ES384, ES512
	Algorithm string `mapstructure:"algorithm" json:"algorithm" yaml:"algorithm"`

	// HS 系列使用的共享密钥
	SecretKey string `mapstructure:"secret_key" json:"secret_key" yaml:"secret_key"`

	// RS/ES 系列的 PEM 公钥文件
	PublicKeyFile string `mapstructure:"public_key_file" json:"public_key_file" yaml:"public_key_file"`

	// 非空时校验 iss / aud
	Issuer   string `mapstructure:"issuer" json:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" json:"audience" yaml:"audience"`

	// 作为 actor 的声明，默认 sub；其他名字从 payload 中按点号路径读取
	ActorClaim string `mapstructure:"actor_claim" json:"actor_claim" yaml:"actor_claim"`

	HeaderName  string `mapstructure:"header_name" json:"header_name" yaml:"header_name"`
	TokenPrefix string `mapstructure:"token_prefix" json:"token_prefix" yaml:"token_prefix"`

	// 允许的时钟偏差
	Leeway time.Duration `mapstructure:"leeway" json:"leeway" yaml:"leeway"`

	// 跳过认证的路径，支持 * 后缀前缀匹配
	SkipPaths []string `mapstructure:"skip_paths" json:"skip_paths" yaml:"skip_paths"`

	// 非空时只接受来自这些网段的请求（CIDR 或单个 IP）
	AllowedNetworks []string `mapstructure:"allowed_networks" json:"allowed_networks" yaml:"allowed_networks"`
}

// DefaultConfig 默认配置，认证关闭
func DefaultConfig() *Config {
	return &Config{
		Algorithm:   "HS256",
		ActorClaim:  "sub",
		HeaderName:  "Authorization",
		TokenPrefix: "Bearer ",
		Leeway:      5 * time.Second,
		SkipPaths:   []string{"/api/v1/health", "/metrics"},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	alg := strings.ToUpper(c.Algorithm)
	if alg == "" {
		alg = "HS256"
	}
	if _, ok := signingMethods[alg]; !ok {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if strings.HasPrefix(alg, "HS") && c.SecretKey == "" {
		return fmt.Errorf("%w: secret_key is required for %s", ErrInvalidConfig, alg)
	}
	if !strings.HasPrefix(alg, "HS") && c.PublicKeyFile == "" {
		return fmt.Errorf("%w: public_key_file is required for %s", ErrInvalidConfig, alg)
	}
	for _, n := range c.AllowedNetworks {
		if _, err := parseNetwork(n); err != nil {
			return fmt.Errorf("%w: allowed_networks: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func parseNetwork(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		return n, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip %q", s)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}
