package balancer

import (
	"sort"
	"sync"
)

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

func init() {
	// 注册内置负载均衡器
	Register(NewRandomBuilder())
	Register(NewRoundRobinBuilder())
	Register(NewWeightedBuilder())
	Register(NewConsistentHashBuilder())
	Register(NewLeastLoadedBuilder())
}

// Register 注册负载均衡器构建器
func Register(b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[b.Name()] = b
}

// Get 获取负载均衡器构建器
func Get(name string) Builder {
	mu.RLock()
	defer mu.RUnlock()
	return builders[name]
}

// Names 已注册的算法名
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New 创建负载均衡器实例，未注册返回 nil
func New(name string) Balancer {
	b := Get(name)
	if b == nil {
		return nil
	}
	return b.Build()
}
