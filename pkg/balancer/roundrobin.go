package balancer

import "sync/atomic"

const RoundRobinName = "round_robin"

type roundRobinBuilder struct{}

func NewRoundRobinBuilder() Builder {
	return &roundRobinBuilder{}
}

func (b *roundRobinBuilder) Build() Balancer {
	return &roundRobinBalancer{}
}

func (b *roundRobinBuilder) Name() string {
	return RoundRobinName
}

// roundRobinBalancer 计数器在实例内共享，每次调用都会递增，
// 候选数量变化时按新的数量取模
type roundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *roundRobinBalancer) Pick(nodes []*Node, _ PickInfo) *Node {
	if len(nodes) == 0 {
		return nil
	}
	idx := b.counter.Add(1) - 1
	return nodes[idx%uint64(len(nodes))]
}
