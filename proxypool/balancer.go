package proxypool

import (
	"sort"
	"sync/atomic"

	"skiptracer/proxypool/model"
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyLeastUsed  = "least_used"
	StrategyBest       = "best"
)

// LoadBalancer 从可用候选中选出一个代理。候选列表非空。
type LoadBalancer interface {
	Select(candidates []*model.ProxyInfo) *model.ProxyInfo
}

// newLoadBalancer 按名称创建策略，未知名称回退到 best。
func newLoadBalancer(strategy string) LoadBalancer {
	switch strategy {
	case StrategyRoundRobin:
		return &RoundRobinBalancer{}
	case StrategyLeastUsed:
		return LeastUsedBalancer{}
	default:
		return BestBalancer{}
	}
}

// RoundRobinBalancer 按 ID 排序后顺序轮换。
type RoundRobinBalancer struct {
	next uint32
}

func (b *RoundRobinBalancer) Select(candidates []*model.ProxyInfo) *model.ProxyInfo {
	sorted := make([]*model.ProxyInfo, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	nextIndex := atomic.AddUint32(&b.next, 1) - 1
	return sorted[nextIndex%uint32(len(sorted))]
}

// LeastUsedBalancer 选择累计使用次数最少的代理。
type LeastUsedBalancer struct{}

func (LeastUsedBalancer) Select(candidates []*model.ProxyInfo) *model.ProxyInfo {
	var best *model.ProxyInfo
	for _, p := range candidates {
		if best == nil || p.TotalUses < best.TotalUses || (p.TotalUses == best.TotalUses && p.ID < best.ID) {
			best = p
		}
	}
	return best
}

// BestBalancer 优先连续成功次数多的代理，其次延迟低的。
// 延迟为 0 表示未测速，排在已测速代理之后。
type BestBalancer struct{}

func (BestBalancer) Select(candidates []*model.ProxyInfo) *model.ProxyInfo {
	sorted := make([]*model.ProxyInfo, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SuccessCount != b.SuccessCount {
			return a.SuccessCount > b.SuccessCount
		}
		if (a.Latency == 0) != (b.Latency == 0) {
			return a.Latency != 0
		}
		if a.Latency != b.Latency {
			return a.Latency < b.Latency
		}
		return a.ID < b.ID
	})
	return sorted[0]
}
