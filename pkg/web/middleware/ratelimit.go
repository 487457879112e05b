package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/xdooria-dal/pkg/cache/fifo"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// RateLimitConfig 令牌桶限流配置
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst" yaml:"burst"`
	// PerIP 为每个客户端 IP 单独限流，否则全局共享一个桶
	PerIP     bool     `mapstructure:"per_ip" json:"per_ip" yaml:"per_ip"`
	SkipPaths []string `mapstructure:"skip_paths" json:"skip_paths" yaml:"skip_paths"`
	// WaitMode 为 true 时排队等待令牌，最长 WaitTimeout；否则直接拒绝
	WaitMode    bool          `mapstructure:"wait_mode" json:"wait_mode" yaml:"wait_mode"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" json:"wait_timeout" yaml:"wait_timeout"`
	// MaxLimiters 同时保留的客户端限流器数量，超出时淘汰最早创建的
	MaxLimiters int           `mapstructure:"max_limiters" json:"max_limiters" yaml:"max_limiters"`
	LimiterTTL  time.Duration `mapstructure:"limiter_ttl" json:"limiter_ttl" yaml:"limiter_ttl"`

	KeyFunc func(*gin.Context) string `mapstructure:"-" json:"-" yaml:"-"`
}

// DefaultRateLimitConfig 默认配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 200,
		Burst:             400,
		PerIP:             true,
		MaxLimiters:       10000,
		LimiterTTL:        10 * time.Minute,
		WaitTimeout:       time.Second,
	}
}

// RateLimiter 限流器集合
type RateLimiter struct {
	cfg      RateLimitConfig
	global   *rate.Limiter
	mu       sync.Mutex
	limiters *fifo.Cache[string, *rate.Limiter]
	logger   logger.Logger
}

// NewRateLimiter 创建限流器
func NewRateLimiter(l logger.Logger, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		limiters: fifo.New(
			fifo.Config{MaxSize: cfg.MaxLimiters, DefaultTTL: cfg.LimiterTTL},
			fifo.WithOnEvict(func(key string, _ *rate.Limiter) {
				l.Debug("rate limiter evicted", "key", key)
			}),
		),
		logger: l,
	}
}

// Allow 是否放行，key 为空时使用全局桶
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Wait 等待令牌
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.limiter(key).Wait(ctx)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if key == "" {
		return rl.global
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if lim, ok := rl.limiters.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)
	rl.limiters.Set(key, lim)
	return lim
}

// Cleanup 清理过期的客户端限流器
func (rl *RateLimiter) Cleanup() int {
	return rl.limiters.RemoveExpired()
}

// Len 当前客户端限流器数量
func (rl *RateLimiter) Len() int {
	return rl.limiters.Len()
}

// RateLimit 限流中间件
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(limiter.cfg.SkipPaths))
	for _, p := range limiter.cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		key := limiter.key(c)
		if limiter.cfg.WaitMode {
			ctx := c.Request.Context()
			if limiter.cfg.WaitTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limiter.cfg.WaitTimeout)
				defer cancel()
			}
			if err := limiter.Wait(ctx, key); err != nil {
				limiter.logger.Warn("rate limit wait timeout", "key", key, "path", path, "error", err)
				abortRateLimited(c)
				return
			}
		} else if !limiter.Allow(key) {
			limiter.logger.Warn("rate limit exceeded", "key", key, "path", path)
			abortRateLimited(c)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) key(c *gin.Context) string {
	if rl.cfg.KeyFunc != nil {
		return rl.cfg.KeyFunc(c)
	}
	if rl.cfg.PerIP {
		return "ip:" + c.ClientIP()
	}
	return ""
}

func abortRateLimited(c *gin.Context) {
	c.Header("Retry-After", strconv.Itoa(1))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":    "RATE_LIMITED",
		"message": "too many requests",
		"data":    nil,
	})
}
