package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Pipeline 批量写命令，减少网络往返
type Pipeline struct {
	pipeliner goredis.Pipeliner
}

// Pipeline 创建 Pipeline 实例（写入主库）
func (c *Client) Pipeline() *Pipeline {
	return &Pipeline{pipeliner: c.getMaster().Pipeline()}
}

// Set 添加 Set 命令
func (p *Pipeline) Set(key string, value interface{}, expiration time.Duration) *Pipeline {
	p.pipeliner.Set(context.Background(), key, value, expiration)
	return p
}

// Del 添加 Del 命令
func (p *Pipeline) Del(keys ...string) *Pipeline {
	if len(keys) > 0 {
		p.pipeliner.Del(context.Background(), keys...)
	}
	return p
}

// SAdd 添加 SAdd 命令
func (p *Pipeline) SAdd(key string, members ...interface{}) *Pipeline {
	p.pipeliner.SAdd(context.Background(), key, members...)
	return p
}

// SRem 添加 SRem 命令
func (p *Pipeline) SRem(key string, members ...interface{}) *Pipeline {
	p.pipeliner.SRem(context.Background(), key, members...)
	return p
}

// Expire 添加 Expire 命令
func (p *Pipeline) Expire(key string, expiration time.Duration) *Pipeline {
	p.pipeliner.Expire(context.Background(), key, expiration)
	return p
}

// Len 已排队的命令数
func (p *Pipeline) Len() int {
	return p.pipeliner.Len()
}

// Exec 执行全部命令，返回第一个失败命令的错误
func (p *Pipeline) Exec(ctx context.Context) error {
	if p.pipeliner.Len() == 0 {
		return nil
	}
	cmds, err := p.pipeliner.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if cmdErr := cmd.Err(); cmdErr != nil {
				return fmt.Errorf("pipeline %s failed: %w", cmd.Name(), cmdErr)
			}
		}
		return fmt.Errorf("pipeline exec failed: %w", err)
	}
	return nil
}

// Discard 丢弃 Pipeline（不执行任何命令）
func (p *Pipeline) Discard() {
	p.pipeliner.Discard()
}

// Pipelined 在 Pipeline 中执行函数（自动提交）
func (c *Client) Pipelined(ctx context.Context, fn func(*Pipeline) error) error {
	pipe := c.Pipeline()
	if err := fn(pipe); err != nil {
		pipe.Discard()
		return fmt.Errorf("pipelined function failed: %w", err)
	}
	return pipe.Exec(ctx)
}
