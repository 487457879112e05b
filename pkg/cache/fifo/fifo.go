// Package fifo 按插入顺序淘汰的内存缓存。
//
// 与 LRU 不同，读取不会调整条目位置，更新已有键也保持原有位置；
// 容量满时淘汰最早插入的条目。过期条目在读取时惰性删除，
// 也可以由调用方定期调用 RemoveExpired 批量清理。
package fifo

import (
	"container/list"
	"sync"
	"time"
)

// Config FIFO 配置
type Config struct {
	// MaxSize 最大条目数
	MaxSize int `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	// DefaultTTL 默认过期时间，<= 0 表示不过期
	DefaultTTL time.Duration `mapstructure:"default_ttl" json:"default_ttl" yaml:"default_ttl"`
}

// Cache 线程安全的 FIFO 缓存
type Cache[K comparable, V any] struct {
	config Config
	order  *list.List
	items  map[K]*list.Element
	mu     sync.Mutex
	now    func() time.Time

	onEvict func(key K, value V)
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Option 配置选项
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict 设置淘汰回调，容量淘汰与过期清理都会触发，Delete/Clear 不触发
func WithOnEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// WithClock 替换时间源
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

// New 创建缓存，MaxSize <= 0 时按 1 处理
func New[K comparable, V any](cfg Config, opts ...Option[K, V]) *Cache[K, V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	c := &Cache[K, V]{
		config: cfg,
		order:  list.New(),
		items:  make(map[K]*list.Element),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 获取值，过期条目会被删除
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := elem.Value.(*entry[K, V])
	if ent.expired(c.now()) {
		c.removeElement(elem, true)
		return zero, false
	}
	return ent.value, true
}

// Set 设置值（使用默认 TTL）
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL 设置值，ttl <= 0 表示不过期
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		ent.expiresAt = expiresAt
		return
	}

	for c.order.Len() >= c.config.MaxSize {
		c.removeElement(c.order.Front(), true)
	}

	elem := c.order.PushBack(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem
}

// Delete 删除，返回键是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem, false)
	}
	return ok
}

// RemoveExpired 删除全部过期条目，返回删除数量
func (c *Cache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*entry[K, V]).expired(now) {
			c.removeElement(e, true)
			removed++
		}
		e = next
	}
	return removed
}

// Keys 按插入顺序返回当前的键（含尚未清理的过期条目）
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry[K, V]).key)
	}
	return keys
}

// Len 返回当前条目数
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// MaxSize 容量上限
func (c *Cache[K, V]) MaxSize() int {
	return c.config.MaxSize
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[K]*list.Element)
}

func (c *Cache[K, V]) removeElement(elem *list.Element, evicted bool) {
	c.order.Remove(elem)
	ent := elem.Value.(*entry[K, V])
	delete(c.items, ent.key)
	if evicted && c.onEvict != nil {
		c.onEvict(ent.key, ent.value)
	}
}
