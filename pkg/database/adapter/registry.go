package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/scheduler"
)

// Options 创建适配器时注入的共享依赖
type Options struct {
	Logger    logger.Logger
	Scheduler *scheduler.Scheduler
}

// Factory 根据连接配置创建适配器
type Factory func(cfg ConnectionConfig, opts Options) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[Provider]Factory)
)

// Register 注册引擎工厂，引擎包在 init 中调用
func Register(provider Provider, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[provider] = f
}

// Providers 已注册的引擎
func Providers() []Provider {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]Provider, 0, len(factories))
	for p := range factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open 按 cfg.Provider 创建适配器，不会建立连接
func Open(cfg ConnectionConfig, opts Options) (Adapter, error) {
	mu.RLock()
	f, ok := factories[cfg.Provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown provider %q for connection %q", cfg.Provider, cfg.ID)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	return f(cfg, opts)
}
