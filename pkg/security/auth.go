package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
)

var signingMethods = map[string]jwt.SigningMethod{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
	"ES256": jwt.SigningMethodES256,
	"ES384": jwt.SigningMethodES384,
	"ES512": jwt.SigningMethodES512,
}

// Claims 令牌声明，Payload 为签发方自定义内容
type Claims struct {
	jwt.RegisteredClaims

	Payload map[string]any `json:"payload,omitempty"`
}

// Get 按点号路径读取 payload，如 "user.name"
func (c *Claims) Get(key string) any {
	var cur any = c.Payload
	for _, k := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// UnmarshalKey 将 payload 中的值解码到 v
func (c *Claims) UnmarshalKey(key string, v any) error {
	val := c.Get(key)
	if val == nil {
		return nil
	}
	return mapstructure.Decode(val, v)
}

// Identity 认证通过的调用方
type Identity struct {
	Actor  string
	Claims *Claims
}

// Authenticator 校验令牌并解析调用方身份
type Authenticator struct {
	cfg      *Config
	method   jwt.SigningMethod
	key      any
	networks []*net.IPNet
	parser   *jwt.Parser
}

// NewAuthenticator 创建认证器，cfg 未启用时同样可用但 Enabled 返回 false
func NewAuthenticator(cfg *Config) (*Authenticator, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{cfg: newCfg}
	if !newCfg.Enabled {
		return a, nil
	}

	alg := strings.ToUpper(newCfg.Algorithm)
	a.method = signingMethods[alg]
	if a.key, err = loadVerifyKey(newCfg, alg); err != nil {
		return nil, err
	}
	for _, n := range newCfg.AllowedNetworks {
		ipNet, _ := parseNetwork(n)
		a.networks = append(a.networks, ipNet)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(newCfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if newCfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(newCfg.Issuer))
	}
	if newCfg.Audience != "" {
		popts = append(popts, jwt.WithAudience(newCfg.Audience))
	}
	a.parser = jwt.NewParser(popts...)
	return a, nil
}

func loadVerifyKey(cfg *Config, alg string) (any, error) {
	if strings.HasPrefix(alg, "HS") {
		return []byte(cfg.SecretKey), nil
	}
	data, err := os.ReadFile(cfg.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	var key any
	if strings.HasPrefix(alg, "RS") {
		key, err = jwt.ParseRSAPublicKeyFromPEM(data)
	} else {
		key, err = jwt.ParseECPublicKeyFromPEM(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	return key, nil
}

// Enabled 是否启用认证
func (a *Authenticator) Enabled() bool {
	return a.cfg.Enabled
}

// Config 生效配置
func (a *Authenticator) Config() *Config {
	return a.cfg
}

// ShouldSkip 路径是否免认证
func (a *Authenticator) ShouldSkip(path string) bool {
	for _, p := range a.cfg.SkipPaths {
		if p == path || (strings.HasSuffix(p, "*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*"))) {
			return true
		}
	}
	return false
}

// AllowNetwork 客户端地址是否在允许的网段内，未配置网段时全部允许
func (a *Authenticator) AllowNetwork(clientIP string) bool {
	if len(a.networks) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, n := range a.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Authenticate 校验请求头中的令牌，返回调用方身份
func (a *Authenticator) Authenticate(header string) (*Identity, error) {
	raw := strings.TrimSpace(header)
	if a.cfg.TokenPrefix != "" {
		if !strings.HasPrefix(raw, a.cfg.TokenPrefix) {
			if raw == "" {
				return nil, ErrTokenMissing
			}
			return nil, ErrTokenMalformed
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, a.cfg.TokenPrefix))
	}
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, wrapError(err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	actor := a.actorOf(claims)
	if actor == "" {
		return nil, ErrActorMissing
	}
	return &Identity{Actor: actor, Claims: claims}, nil
}

func (a *Authenticator) actorOf(c *Claims) string {
	if a.cfg.ActorClaim == "" || a.cfg.ActorClaim == "sub" {
		return c.Subject
	}
	if s, ok := c.Get(a.cfg.ActorClaim).(string); ok {
		return s
	}
	return ""
}

// Issue 用共享密钥签发令牌，供运维工具与测试使用，非对称算法不支持签发
func (a *Authenticator) Issue(actor string, ttl time.Duration, payload map[string]any) (string, error) {
	if a.method == nil || !strings.HasPrefix(a.method.Alg(), "HS") {
		return "", ErrSigningDisabled
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Payload: payload,
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(a.method, claims).SignedString(a.key)
}

func wrapError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotValidYet
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrAlgorithmMismatch
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

type identityKey struct{}

// WithIdentity 将身份放入 context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 从 context 读取身份
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
