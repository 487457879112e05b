package redis

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient 内部 Redis 客户端接口（隐藏 go-redis 类型）
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Pipeline() redis.Pipeliner
	PoolStats() *redis.PoolStats
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Client Redis 客户端（隐藏 go-redis 类型，支持主从读写分离）
type Client struct {
	master     redisClient
	slaves     []redisClient
	cfg        *Config
	slaveIndex uint64
}

// NewClient 创建 Redis 客户端，不会立即建立连接
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	switch {
	case cfg.IsStandalone():
		c.master = redis.NewClient(c.nodeOptions(*cfg.Standalone))
	case cfg.IsMasterSlave():
		c.master = redis.NewClient(c.nodeOptions(*cfg.Master))
		c.slaves = make([]redisClient, len(cfg.Slaves))
		for i, slave := range cfg.Slaves {
			c.slaves[i] = redis.NewClient(c.nodeOptions(slave))
		}
	case cfg.IsCluster():
		c.master = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           cfg.Cluster.Addrs,
			Password:        cfg.Cluster.Password,
			MaxIdleConns:    cfg.Pool.MaxIdleConns,
			ConnMaxLifetime: cfg.Pool.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Pool.ConnMaxIdleTime,
			DialTimeout:     cfg.Pool.DialTimeout,
			ReadTimeout:     cfg.Pool.ReadTimeout,
			WriteTimeout:    cfg.Pool.WriteTimeout,
			PoolTimeout:     cfg.Pool.PoolTimeout,
		})
	default:
		return nil, ErrInvalidConfig
	}
	return c, nil
}

func (c *Client) nodeOptions(node NodeConfig) *redis.Options {
	return &redis.Options{
		Addr:            net.JoinHostPort(node.Host, strconv.Itoa(node.Port)),
		Password:        node.Password,
		DB:              node.DB,
		MaxIdleConns:    c.cfg.Pool.MaxIdleConns,
		MaxActiveConns:  c.cfg.Pool.MaxOpenConns,
		ConnMaxLifetime: c.cfg.Pool.ConnMaxLifetime,
		ConnMaxIdleTime: c.cfg.Pool.ConnMaxIdleTime,
		DialTimeout:     c.cfg.Pool.DialTimeout,
		ReadTimeout:     c.cfg.Pool.ReadTimeout,
		WriteTimeout:    c.cfg.Pool.WriteTimeout,
		PoolTimeout:     c.cfg.Pool.PoolTimeout,
	}
}

// getMaster 写操作使用主节点（单机/集群模式下即唯一客户端）
func (c *Client) getMaster() redisClient {
	return c.master
}

// getSlave 读操作选择从节点，没有从节点时使用主节点
func (c *Client) getSlave() redisClient {
	if len(c.slaves) == 0 {
		return c.master
	}

	switch c.cfg.GetSlaveLoadBalance() {
	case "round_robin":
		index := atomic.AddUint64(&c.slaveIndex, 1) % uint64(len(c.slaves))
		return c.slaves[index]
	default:
		return c.slaves[rand.IntN(len(c.slaves))]
	}
}

// Ping 测试主节点与所有从节点
func (c *Client) Ping(ctx context.Context) error {
	if err := c.master.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("master ping failed: %w", err)
	}
	for i, slave := range c.slaves {
		if err := slave.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("slave[%d] ping failed: %w", i, err)
		}
	}
	return nil
}

// PoolStats 主节点连接池统计
func (c *Client) PoolStats() PoolStats {
	stats := c.master.PoolStats()
	return PoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
		StaleConns: stats.StaleConns,
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	if err := c.master.Close(); err != nil {
		return fmt.Errorf("failed to close master: %w", err)
	}
	for i, slave := range c.slaves {
		if err := slave.Close(); err != nil {
			return fmt.Errorf("failed to close slave[%d]: %w", i, err)
		}
	}
	return nil
}
