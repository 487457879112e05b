package dal

import (
	"github.com/lk2023060901/xdooria-dal/pkg/cache"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

// 服务整体健康状态
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// ConnectionStatus 单个连接的状态
type ConnectionStatus struct {
	ID                 string      `json:"id"`
	Engine             string      `json:"engine"`
	Transactions       bool        `json:"transactions"`
	NestedTransactions bool        `json:"nestedTransactions"`
	Health             pool.Health `json:"health"`
	Stats              pool.Stats  `json:"stats"`
}

// HealthReport 健康检查结果
type HealthReport struct {
	Status      string             `json:"status"`
	Strategy    router.Strategy    `json:"strategy"`
	Primary     string             `json:"primary"`
	Connections []ConnectionStatus `json:"connections"`
}

// Stats 服务统计
type Stats struct {
	Cache        cache.Stats        `json:"cache"`
	Transactions transaction.Stats  `json:"transactions"`
	Connections  []ConnectionStatus `json:"connections"`
}

func (s *Service) connections() []ConnectionStatus {
	ids := s.router.Connections()
	out := make([]ConnectionStatus, 0, len(ids))
	for _, id := range ids {
		a, ok := s.router.Get(id)
		if !ok {
			continue
		}
		out = append(out, ConnectionStatus{
			ID:                 id,
			Engine:             a.Engine(),
			Transactions:       a.SupportsTransactions(),
			NestedTransactions: a.SupportsNestedTransactions(),
			Health:             a.Health(),
			Stats:              a.Stats(),
		})
	}
	return out
}

// Health 主连接不健康时为 down，其余连接有不健康时为 degraded
func (s *Service) Health() HealthReport {
	cfg := s.router.Config()
	report := HealthReport{
		Status:      HealthOK,
		Strategy:    cfg.Strategy,
		Primary:     cfg.Primary,
		Connections: s.connections(),
	}
	primaryFound := false
	for _, c := range report.Connections {
		if c.ID == cfg.Primary {
			primaryFound = true
		}
		if c.Health.Healthy() {
			continue
		}
		if c.ID == cfg.Primary {
			report.Status = HealthDown
		} else if report.Status == HealthOK {
			report.Status = HealthDegraded
		}
	}
	if !primaryFound {
		report.Status = HealthDown
	}
	return report
}

// Stats 缓存、事务与连接池统计
func (s *Service) Stats() Stats {
	return Stats{
		Cache:        s.cache.Stats(),
		Transactions: s.txm.Stats(),
		Connections:  s.connections(),
	}
}
