package cache

// Stats 缓存统计
type Stats struct {
	L1Hits   int64 `json:"l1_hits"`
	L1Misses int64 `json:"l1_misses"`
	L2Hits   int64 `json:"l2_hits"`
	L2Misses int64 `json:"l2_misses"`
	L2Errors int64 `json:"l2_errors"`
	// Hits 任一层级命中的请求数
	Hits int64 `json:"hits"`
	// Misses 所有层级都未命中的请求数
	Misses int64 `json:"misses"`
	// HitRate Hits / (Hits + Misses)，没有请求时为 0
	HitRate   float64 `json:"hit_rate"`
	L1Size    int     `json:"l1_size"`
	L1MaxSize int     `json:"l1_max_size"`
	Keys      int     `json:"keys"`
	Entities  int     `json:"entities"`
	L2Enabled bool    `json:"l2_enabled"`
}

// Stats 返回统计快照
func (m *Manager[V]) Stats() Stats {
	s := Stats{
		L1Hits:    m.l1Hits.Load(),
		L1Misses:  m.l1Misses.Load(),
		L2Hits:    m.l2Hits.Load(),
		L2Misses:  m.l2Misses.Load(),
		L2Errors:  m.l2Errors.Load(),
		Misses:    m.misses.Load(),
		L1Size:    m.l1.Len(),
		L1MaxSize: m.l1.MaxSize(),
		Keys:      m.registry.size(),
		Entities:  len(m.registry.entityNames()),
		L2Enabled: m.l2 != nil,
	}
	s.Hits = s.L1Hits + s.L2Hits
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// ResetStats 清零计数器
func (m *Manager[V]) ResetStats() {
	m.l1Hits.Store(0)
	m.l1Misses.Store(0)
	m.l2Hits.Store(0)
	m.l2Misses.Store(0)
	m.l2Errors.Store(0)
	m.misses.Store(0)
}
