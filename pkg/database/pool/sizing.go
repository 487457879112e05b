package pool

import (
	"context"
	"errors"
	"math"
)

// SizingAction 容量评估结果
type SizingAction string

const (
	SizingNone   SizingAction = "none"
	SizingGrow   SizingAction = "grow"
	SizingShrink SizingAction = "shrink"
)

// SizingDecision 容量评估建议
type SizingDecision struct {
	Action SizingAction
	Target int // 建议的连接总数
}

// Advise 根据空闲占比与增长因子给出扩缩容建议，不做任何修改
func (p *Pool[C]) Advise() SizingDecision {
	p.mu.Lock()
	idle, active := len(p.idle), p.active
	p.mu.Unlock()
	return advise(p.cfg, idle, active)
}

func advise(cfg *Config, idle, active int) SizingDecision {
	total := idle + active
	if total == 0 {
		if cfg.Min() > 0 {
			return SizingDecision{Action: SizingGrow, Target: cfg.Min()}
		}
		return SizingDecision{Action: SizingNone, Target: 0}
	}

	ratio := float64(idle) / float64(total)
	switch {
	case ratio < cfg.GrowIdleRatio && total < cfg.MaxSize:
		target := int(math.Ceil(float64(total) * cfg.GrowthFactor))
		if target <= total {
			target = total + 1
		}
		return SizingDecision{Action: SizingGrow, Target: min(target, cfg.MaxSize)}
	case ratio > cfg.ShrinkIdleRatio && total > cfg.Min():
		target := int(math.Ceil(float64(total) / cfg.GrowthFactor))
		// 只能回收空闲连接
		target = max(target, cfg.Min(), active)
		if target >= total {
			return SizingDecision{Action: SizingNone, Target: total}
		}
		return SizingDecision{Action: SizingShrink, Target: target}
	default:
		return SizingDecision{Action: SizingNone, Target: total}
	}
}

// Resize 按建议调整空闲连接数，活跃连接不会被关闭
func (p *Pool[C]) Resize(ctx context.Context) SizingDecision {
	d := p.Advise()

	switch d.Action {
	case SizingGrow:
		// 每次新建前按当前总数重新计算缺口
		for i := 0; i < d.Target; i++ {
			p.mu.Lock()
			short := d.Target - len(p.idle) - p.active
			p.mu.Unlock()
			if short <= 0 {
				break
			}
			err := p.openIdle(ctx)
			if errors.Is(err, errPoolFull) {
				break
			}
			if err != nil {
				p.logger.Warn("pool grow failed", "error", err)
				break
			}
		}
	case SizingShrink:
		p.mu.Lock()
		excess := len(p.idle) + p.active - d.Target
		excess = min(excess, len(p.idle))
		victims := make([]C, excess)
		copy(victims, p.idle[:excess])
		p.idle = p.idle[excess:]
		p.mu.Unlock()
		for _, conn := range victims {
			_ = conn.Close(ctx)
		}
	}

	if d.Action != SizingNone {
		p.logger.Debug("pool resized", "action", d.Action, "target", d.Target)
	}
	return d
}
