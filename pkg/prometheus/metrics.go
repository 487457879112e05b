package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type (
	CounterVec   = prometheus.CounterVec
	GaugeVec     = prometheus.GaugeVec
	HistogramVec = prometheus.HistogramVec
	Collector    = prometheus.Collector
	Labels       = prometheus.Labels
)

// register 按名称去重注册，同名指标只能注册一次
func (c *Client) register(name string, col prometheus.Collector) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.metrics[name]; ok {
		return fmt.Errorf("%w: %s", ErrMetricExists, name)
	}
	if err := c.registry.Register(col); err != nil {
		return err
	}
	c.metrics[name] = col
	return nil
}

func lookup[T prometheus.Collector](c *Client, name string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metrics[name].(T)
	return v, ok
}

// NewCounter 创建并注册 Counter
func (c *Client) NewCounter(name, help string, labels []string) (*CounterVec, error) {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Subsystem: c.config.Subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if err := c.register(name, v); err != nil {
		return nil, err
	}
	return v, nil
}

// MustNewCounter 创建 Counter，失败则 panic
func (c *Client) MustNewCounter(name, help string, labels []string) *CounterVec {
	v, err := c.NewCounter(name, help, labels)
	if err != nil {
		panic(err)
	}
	return v
}

// GetCounter 获取已注册的 Counter
func (c *Client) GetCounter(name string) (*CounterVec, bool) {
	return lookup[*CounterVec](c, name)
}

// NewGauge 创建并注册 Gauge
func (c *Client) NewGauge(name, help string, labels []string) (*GaugeVec, error) {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Subsystem: c.config.Subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if err := c.register(name, v); err != nil {
		return nil, err
	}
	return v, nil
}

// MustNewGauge 创建 Gauge，失败则 panic
func (c *Client) MustNewGauge(name, help string, labels []string) *GaugeVec {
	v, err := c.NewGauge(name, help, labels)
	if err != nil {
		panic(err)
	}
	return v
}

// GetGauge 获取已注册的 Gauge
func (c *Client) GetGauge(name string) (*GaugeVec, bool) {
	return lookup[*GaugeVec](c, name)
}

// NewHistogram 创建并注册 Histogram，buckets 为 nil 时使用默认分桶
func (c *Client) NewHistogram(name, help string, labels []string, buckets []float64) (*HistogramVec, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.config.Namespace,
		Subsystem: c.config.Subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := c.register(name, v); err != nil {
		return nil, err
	}
	return v, nil
}

// MustNewHistogram 创建 Histogram，失败则 panic
func (c *Client) MustNewHistogram(name, help string, labels []string, buckets []float64) *HistogramVec {
	v, err := c.NewHistogram(name, help, labels, buckets)
	if err != nil {
		panic(err)
	}
	return v
}

// GetHistogram 获取已注册的 Histogram
func (c *Client) GetHistogram(name string) (*HistogramVec, bool) {
	return lookup[*HistogramVec](c, name)
}

// RegisterCollector 注册自定义采集器
func (c *Client) RegisterCollector(col Collector) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	return c.registry.Register(col)
}
