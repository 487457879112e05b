// Package idgen 生成按时间递增的 64 位 ID。
package idgen

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/sonyflake"
)

// Epoch ID 中时间部分的起点
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator ID 生成器，实现必须可并发使用
type Generator interface {
	NextID() (int64, error)
}

type sonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflake 创建 Sonyflake 生成器。同一时刻运行的实例必须使用不同的 machineID
func NewSonyflake(machineID uint16) (Generator, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: Epoch,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if sf == nil {
		return nil, errors.New("failed to create sonyflake generator")
	}
	return &sonyflakeGenerator{sf: sf}, nil
}

func (g *sonyflakeGenerator) NextID() (int64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "failed to generate id")
	}
	return int64(id), nil
}

// MachineOf 返回 ID 中的机器号
func MachineOf(id int64) uint16 {
	return uint16(sonyflake.MachineID(uint64(id)))
}
