package pool

import (
	"sync"
	"sync/atomic"
)

// Lease 一次连接借用，Release 只生效一次
type Lease[C Conn] struct {
	pool *Pool[C]
	conn C

	released atomic.Bool
	broken   atomic.Bool

	mu    sync.Mutex
	owner Rollbacker
}

// Conn 借出的连接
func (l *Lease[C]) Conn() C {
	return l.conn
}

// Bind 将连接绑定到事务，连接池关闭时会回滚该事务
func (l *Lease[C]) Bind(r Rollbacker) {
	l.mu.Lock()
	l.owner = r
	l.mu.Unlock()
}

func (l *Lease[C]) binding() Rollbacker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// MarkBroken 连接不可复用，归还时直接关闭
func (l *Lease[C]) MarkBroken() {
	l.broken.Store(true)
}

// Release 归还连接，返回是否为本次调用真正归还
func (l *Lease[C]) Release() bool {
	if !l.released.CompareAndSwap(false, true) {
		return false
	}
	l.Bind(nil)
	l.pool.release(l)
	return true
}

// Released 是否已归还
func (l *Lease[C]) Released() bool {
	return l.released.Load()
}
