package pool

import (
	"context"
	"errors"
	"time"
)

// Health 当前健康状态
func (p *Pool[C]) Health() Health {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// CheckHealth 借出一个连接执行 Ping，更新健康状态。
// 全部连接都已借出时跳过本次检查，保留上一次的状态
func (p *Pool[C]) CheckHealth(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolClosed
	}

	err := p.ping(ctx)
	if errors.Is(err, errPoolBusy) {
		p.logger.Debug("health check skipped, all connections in use")
		return nil
	}
	if err != nil {
		p.onCheckFailure(err)
	} else {
		p.onCheckSuccess()
	}
	return err
}

func (p *Pool[C]) ping(ctx context.Context) error {
	if p.cfg.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
		defer cancel()
	}

	lease, err := p.tryAcquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := lease.Conn().Ping(ctx); err != nil {
		lease.MarkBroken()
		return err
	}
	return nil
}

func (p *Pool[C]) onCheckSuccess() {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	recovered := p.health.Status != StatusConnected && !p.health.LastHealthCheck.IsZero()
	p.health.Status = StatusConnected
	p.health.ConsecutiveFailures = 0
	p.health.LastHealthCheck = time.Now()
	p.health.AverageResponseTime = p.window.GetAvgLatency()
	p.health.LastError = ""
	p.backoff.Reset()
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}

	if recovered {
		p.logger.Info("connection recovered")
	}
}

func (p *Pool[C]) onCheckFailure(err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.Status = StatusError
	p.health.ConsecutiveFailures++
	p.health.LastHealthCheck = time.Now()
	p.health.AverageResponseTime = p.window.GetAvgLatency()
	p.health.LastError = err.Error()

	failures := p.health.ConsecutiveFailures
	if failures >= p.cfg.ReconnectAttempts() {
		p.logger.Error("health check failed, reconnect attempts exhausted",
			"consecutive_failures", failures, "error", err)
		return
	}
	if p.reconnectTimer != nil {
		p.logger.Warn("health check failed, reconnect already scheduled",
			"consecutive_failures", failures, "error", err)
		return
	}

	delay := p.backoff.NextBackOff()
	if delay < 0 {
		delay = p.cfg.MaxReconnectDelay
	}
	p.logger.Warn("health check failed, scheduling reconnect",
		"consecutive_failures", failures, "delay", delay, "error", err)
	p.reconnectTimer = time.AfterFunc(delay, p.reconnect)
}

// reconnect 丢弃全部空闲连接后重新探测，活跃连接不受影响
func (p *Pool[C]) reconnect() {
	p.healthMu.Lock()
	p.reconnectTimer = nil
	p.health.Status = StatusConnecting
	p.healthMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	stale := p.idle
	p.idle = nil
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	for _, conn := range stale {
		_ = conn.Close(ctx)
	}

	p.logger.Info("reconnecting", "dropped_idle", len(stale))
	_ = p.CheckHealth(ctx)
}
