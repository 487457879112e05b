// Package web 基于 gin 的 HTTP 服务：统一响应结构、错误映射与公共中间件。
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/otel"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
	"github.com/lk2023060901/xdooria-dal/pkg/web/middleware"
	"github.com/lk2023060901/xdooria-dal/pkg/web/validator"
)

// Server HTTP 服务，实现 app.Server
type Server struct {
	engine  *gin.Engine
	config  *Config
	logger  logger.Logger
	limiter *middleware.RateLimiter

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option 服务选项
type Option func(*options)

type options struct {
	logger  logger.Logger
	metrics *prometheus.Client
	tracing *otel.Provider
	auth    *security.Authenticator
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics 注册接口指标并在 /metrics 暴露
func WithMetrics(c *prometheus.Client) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTracing 为每个请求创建 server span
func WithTracing(p *otel.Provider) Option {
	return func(o *options) {
		o.tracing = p
	}
}

// WithAuth 启用调用方认证，认证器未启用时忽略
func WithAuth(a *security.Authenticator) Option {
	return func(o *options) {
		o.auth = a
	}
}

// NewServer 创建服务并挂载日志、恢复、追踪、指标、限流与认证中间件
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: logger.Noop()}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	validator.Init()

	engine := gin.New()
	engine.Use(middleware.Logger(o.logger.Named("access")))
	engine.Use(middleware.Recovery(o.logger, gin.Mode() == gin.DebugMode))
	if o.tracing != nil {
		engine.Use(middleware.Tracing(o.tracing.Tracer("dal/http"), o.tracing.Propagator()))
	}

	if o.metrics != nil {
		m, err := middleware.NewHTTPMetrics(o.metrics)
		if err != nil {
			return nil, err
		}
		engine.Use(middleware.Metrics(m))
		engine.GET("/metrics", gin.WrapH(o.metrics.Handler()))
	}

	s := &Server{
		engine: engine,
		config: cfg,
		logger: o.logger.Named("web.server"),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(s.logger, cfg.RateLimit)
		engine.Use(middleware.RateLimit(s.limiter))
	}
	if o.auth != nil && o.auth.Enabled() {
		engine.Use(middleware.Auth(o.logger.Named("web.auth"), o.auth))
	}
	return s, nil
}

// Router 用于注册路由
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RateLimiter 启用限流时返回限流器
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

// Start 绑定端口后在后台提供服务，端口占用等错误同步返回
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrServerAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:        s.engine,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	srv := s.server
	go func() {
		var err error
		if s.config.EnableTLS {
			s.logger.Info("starting https server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Info("starting http server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr 实际监听地址，未启动时为空
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 优雅关闭，等待进行中的请求最多 ShutdownTimeout
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return ErrServerNotStarted
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server exited")
	return nil
}
