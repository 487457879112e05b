package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// GetBytes 获取二进制值（从从库读取），键不存在返回 ErrNil
func GetBytes(ctx context.Context, c *Client, key string) ([]byte, error) {
	val, err := c.getSlave().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNil
		}
		return nil, fmt.Errorf("get bytes failed: %w", err)
	}
	return val, nil
}
