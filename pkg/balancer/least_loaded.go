package balancer

const LeastLoadedName = "least_loaded"

type leastLoadedBuilder struct{}

func NewLeastLoadedBuilder() Builder {
	return &leastLoadedBuilder{}
}

func (b *leastLoadedBuilder) Build() Balancer {
	return &leastLoadedBalancer{}
}

func (b *leastLoadedBuilder) Name() string {
	return LeastLoadedName
}

// leastLoadedBalancer 选择 Load 最小的节点，相同时取靠前的
type leastLoadedBalancer struct{}

func (b *leastLoadedBalancer) Pick(nodes []*Node, _ PickInfo) *Node {
	var best *Node
	for _, n := range nodes {
		if best == nil || n.Load < best.Load {
			best = n
		}
	}
	return best
}
