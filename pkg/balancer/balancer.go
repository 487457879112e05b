// Package balancer 候选连接的选择算法。
//
// 算法只看传入的候选列表，不关心健康状态；过滤不健康节点由调用方完成。
package balancer

// Node 一个候选连接
type Node struct {
	// ID 连接标识
	ID string
	// Weight 权重（加权算法使用，<= 0 按 1 处理）
	Weight int
	// Load 当前负载（least_loaded 使用，数值越小越空闲）
	Load int64
}

// PickInfo 选择时的上下文信息
type PickInfo struct {
	// Key 一致性哈希使用的键
	Key string
}

// Balancer 选择器
type Balancer interface {
	// Pick 从候选中选择一个，候选为空返回 nil
	Pick(nodes []*Node, info PickInfo) *Node
}

// Builder 选择器构建器，每次 Build 返回带独立状态的实例
type Builder interface {
	Build() Balancer
	Name() string
}
