// Package sliding 提供按样本数滑动的延迟统计窗口。
package sliding

import (
	"fmt"
	"sync"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/config"
)

// DefaultWindowSize 默认保留的样本数
const DefaultWindowSize = 100

// WindowConfig 滑动窗口配置
type WindowConfig struct {
	// 保留最近多少个样本
	Size int `mapstructure:"size" json:"size" yaml:"size"`
}

// DefaultWindowConfig 默认配置（保障最小可用）
func DefaultWindowConfig() *WindowConfig {
	return &WindowConfig{
		Size: DefaultWindowSize,
	}
}

type sample struct {
	latency time.Duration
	success bool
}

// Window 固定容量的环形样本窗口，写满后覆盖最老的样本
type Window struct {
	mu      sync.RWMutex
	samples []sample
	next    int
	filled  int
}

// NewWindow 创建滑动窗口统计器
func NewWindow(cfg *WindowConfig) (*Window, error) {
	newCfg, err := config.MergeConfig(DefaultWindowConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge window config: %w", err)
	}
	if newCfg.Size <= 0 {
		return nil, fmt.Errorf("sliding: window size must be positive, got %d", newCfg.Size)
	}

	return &Window{
		samples: make([]sample, newCfg.Size),
	}, nil
}

// Record 记录一次请求
func (w *Window) Record(latency time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = sample{latency: latency, success: success}
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

// Stats 统计结果
type Stats struct {
	// 窗口内样本数
	Count int `json:"count"`
	// 平均延迟
	AvgLatency time.Duration `json:"avg_latency"`
	// 最小延迟
	MinLatency time.Duration `json:"min_latency"`
	// 最大延迟
	MaxLatency time.Duration `json:"max_latency"`
	// 成功率 (0-100)
	SuccessRate float64 `json:"success_rate"`
	// 窗口内成功数
	SuccessCount int64 `json:"success_count"`
	// 窗口内失败数
	FailureCount int64 `json:"failure_count"`
}

// GetStats 获取统计数据
func (w *Window) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var stats Stats
	if w.filled == 0 {
		return stats
	}

	var total time.Duration
	for i := 0; i < w.filled; i++ {
		s := w.samples[i]
		total += s.latency
		if s.success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if i == 0 || s.latency < stats.MinLatency {
			stats.MinLatency = s.latency
		}
		if s.latency > stats.MaxLatency {
			stats.MaxLatency = s.latency
		}
	}

	stats.Count = w.filled
	stats.AvgLatency = total / time.Duration(w.filled)
	stats.SuccessRate = float64(stats.SuccessCount) / float64(w.filled) * 100
	return stats
}

// GetAvgLatency 获取平均延迟
func (w *Window) GetAvgLatency() time.Duration {
	return w.GetStats().AvgLatency
}

// Reset 清空所有样本
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next = 0
	w.filled = 0
}
