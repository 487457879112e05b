package dal

import (
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/cache"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
)

// Metrics 服务指标
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	cache      *prometheus.CounterVec
	txActive   *prometheus.GaugeVec

	poolConnections *prometheus.GaugeVec
	poolWaiting     *prometheus.GaugeVec
	poolHealthy     *prometheus.GaugeVec
	poolQueries     *prometheus.GaugeVec
}

// NewMetrics 在客户端上注册服务指标
func NewMetrics(c *prometheus.Client) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.operations, err = c.NewCounter("operations_total",
		"Total number of data access operations.", []string{"entity", "operation", "status"}); err != nil {
		return nil, err
	}
	if m.latency, err = c.NewHistogram("operation_duration_seconds",
		"Data access operation latency in seconds.", []string{"entity", "operation"}, nil); err != nil {
		return nil, err
	}
	if m.cache, err = c.NewCounter("cache_requests_total",
		"Cache lookups by tier and result.", []string{"tier", "result"}); err != nil {
		return nil, err
	}
	if m.txActive, err = c.NewGauge("transactions_active",
		"Number of pending transactions.", nil); err != nil {
		return nil, err
	}
	if m.poolConnections, err = c.NewGauge("pool_connections",
		"Pooled connections by state.", []string{"connection", "state"}); err != nil {
		return nil, err
	}
	if m.poolWaiting, err = c.NewGauge("pool_waiting_requests",
		"Requests waiting for a pooled connection.", []string{"connection"}); err != nil {
		return nil, err
	}
	if m.poolHealthy, err = c.NewGauge("pool_healthy",
		"1 when the connection health status is connected.", []string{"connection"}); err != nil {
		return nil, err
	}
	if m.poolQueries, err = c.NewGauge("pool_queries",
		"Lifetime queries by result as reported by the pool.", []string{"connection", "result"}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeOperation(entity string, op Operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(entity, string(op), status).Inc()
	m.latency.WithLabelValues(entity, string(op)).Observe(d.Seconds())
}

func (m *Metrics) observeCache(tier cache.Tier, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(string(tier), result).Inc()
}

// refresh 读取各连接池的统计与健康状态
func (m *Metrics) refresh(r *router.Router, activeTx int) {
	if m == nil {
		return
	}
	m.txActive.WithLabelValues().Set(float64(activeTx))
	for _, id := range r.Connections() {
		a, ok := r.Get(id)
		if !ok {
			continue
		}
		st := a.Stats()
		m.poolConnections.WithLabelValues(id, "idle").Set(float64(st.IdleConnections))
		m.poolConnections.WithLabelValues(id, "active").Set(float64(st.ActiveConnections))
		m.poolWaiting.WithLabelValues(id).Set(float64(st.WaitingRequests))
		m.poolQueries.WithLabelValues(id, "success").Set(float64(st.SuccessfulQueries))
		m.poolQueries.WithLabelValues(id, "failure").Set(float64(st.FailedQueries))

		healthy := 0.0
		if a.Health().Healthy() {
			healthy = 1
		}
		m.poolHealthy.WithLabelValues(id).Set(healthy)
	}
}
