// Package otel 初始化 OpenTelemetry 链路追踪。
//
// Provider 无论是否启用都会安装 W3C TraceContext 与 Baggage 传播器，
// 上游带来的 traceparent 可以继续向下游传递。未启用时 Tracer 返回的 span
// 不会被记录。
package otel

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// Provider 链路追踪提供者
type Provider struct {
	cfg        *Config
	logger     logger.Logger
	sdk        *sdktrace.TracerProvider
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
	closed     atomic.Bool
}

type options struct {
	logger   logger.Logger
	exporter sdktrace.SpanExporter
	global   bool
}

// Option 选项
type Option func(*options)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExporter 使用给定的导出器并同步导出，忽略配置中的导出器类型
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
	}
}

// WithGlobal 同时注册为全局 TracerProvider 与传播器
func WithGlobal() Option {
	return func(o *options) {
		o.global = true
	}
}

// New 创建追踪提供者
func New(cfg *Config, opts ...Option) (*Provider, error) {
	newCfg := DefaultConfig()
	if cfg != nil {
		merged, err := config.MergeConfig(newCfg, cfg)
		if err != nil {
			return nil, err
		}
		merged.Enabled = cfg.Enabled
		newCfg = merged
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: logger.Noop()}
	for _, opt := range opts {
		opt(o)
	}

	p := &Provider{
		cfg:    newCfg,
		logger: o.logger.Named("otel"),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		provider: noop.NewTracerProvider(),
	}

	if newCfg.Enabled {
		if err := p.init(newCfg, o.exporter); err != nil {
			return nil, err
		}
	}

	if o.global {
		otel.SetTracerProvider(p.provider)
		otel.SetTextMapPropagator(p.propagator)
	}
	p.logger.Info("tracing initialized",
		"enabled", newCfg.Enabled,
		"exporter", newCfg.Exporter,
		"service", newCfg.ServiceName,
	)
	return p, nil
}

func (p *Provider) init(cfg *Config, exp sdktrace.SpanExporter) error {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exp))
	} else {
		exp, err := newExporter(context.Background(), cfg)
		if err != nil {
			return err
		}
		if exp != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp,
				sdktrace.WithBatchTimeout(cfg.BatchTimeout),
				sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
			))
		}
	}

	p.sdk = sdktrace.NewTracerProvider(tpOpts...)
	p.provider = p.sdk
	return nil
}

func sampler(cfg *Config) sdktrace.Sampler {
	switch cfg.Sampler {
	case SamplerAlways:
		return sdktrace.AlwaysSample()
	case SamplerNever:
		return sdktrace.NeverSample()
	case SamplerRatio:
		return sdktrace.TraceIDRatioBased(cfg.Ratio)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Ratio))
	}
}

// Tracer 获取指定名称的 Tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.provider.Tracer(name)
}

// Propagator 返回文本传播器
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Enabled 是否在记录 span
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown 导出剩余 span 并关闭，重复调用无效
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.closed.Swap(true) || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Close 按配置的超时关闭
func (p *Provider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()
	return p.Shutdown(ctx)
}
