package cluster_cron

import (
	"context"
	"sort"
)

// NodeID 集群中节点的唯一标识
type NodeID string

// Membership 集群成员发现，返回当前可达的节点列表
// 调用需要足够轻量，返回错误时调度会退化为单节点模式
type Membership interface {
	CurrentNodes(ctx context.Context) ([]NodeID, error)
}

type MembershipFunc func(ctx context.Context) ([]NodeID, error)

func (f MembershipFunc) CurrentNodes(ctx context.Context) ([]NodeID, error) {
	return f(ctx)
}

// StaticMembership 固定的节点列表
type StaticMembership struct {
	nodes []NodeID
}

func NewStaticMembership(nodes ...NodeID) *StaticMembership {
	return &StaticMembership{nodes: append([]NodeID(nil), nodes...)}
}

func (s *StaticMembership) CurrentNodes(_ context.Context) ([]NodeID, error) {
	return append([]NodeID(nil), s.nodes...), nil
}

// ClusterView 规范化（排序且去重）后的节点列表快照
type ClusterView []NodeID

// NewClusterView 排序去重，相同成员在任意节点上得到相同的顺序
func NewClusterView(nodes ...NodeID) ClusterView {
	view := make(ClusterView, 0, len(nodes))
	seen := make(map[NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		view = append(view, n)
	}
	sort.Slice(view, func(i, j int) bool {
		return view[i] < view[j]
	})

	return view
}

func (v ClusterView) Contains(node NodeID) bool {
	for _, n := range v {
		if n == node {
			return true
		}
	}
	return false
}
