package cluster_cron

import (
	"context"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"golang.org/x/time/rate"
)

// Owner 计算单owner模式下Job的归属节点
// 节点列表先规范化排序，再按Job在配置中的位置取模轮询分配，
// 因此配置相同、看到相同成员的节点无需通信就能得到一致的结果。
// 列表为空或位置非法时返回空字符串。
func Owner(jobIndex, totalJobs int, view ClusterView) NodeID {
	if jobIndex < 0 || totalJobs <= 0 || jobIndex >= totalJobs {
		return ""
	}
	nodes := NewClusterView(view...)
	if len(nodes) == 0 {
		return ""
	}

	return nodes[jobIndex%len(nodes)]
}

// Allocator 结合成员发现判断本节点是否为Job的owner
type Allocator struct {
	self       NodeID
	membership Membership
	logger     Logger
	telemetry  Telemetry
	timeout    time.Duration
	// 成员发现不可用时限制告警日志的频率
	warn *rate.Sometimes
}

func NewAllocator(self NodeID, membership Membership, logger Logger, telemetry Telemetry) *Allocator {
	if logger == nil {
		logger = NewNopLogger()
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Allocator{
		self:       self,
		membership: membership,
		logger:     logger,
		telemetry:  telemetry,
		timeout:    _const.MembershipTimeout,
		warn:       &rate.Sometimes{Interval: _const.MembershipWarnInterval},
	}
}

// Self 本节点标识
func (a *Allocator) Self() NodeID {
	return a.self
}

// View 获取当前集群视图，本节点总是包含在内
// 成员发现失败时退化为只有本节点的视图，宁可重复执行也不能永远不执行
func (a *Allocator) View(ctx context.Context) ClusterView {
	if a.membership == nil {
		return NewClusterView(a.self)
	}

	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	nodes, err := a.membership.CurrentNodes(lctx)
	cancel()
	if err != nil {
		a.warn.Do(func() {
			a.logger.Warn("membership unavailable, assuming solo node", Field{
				Key: "node",
				Val: a.self,
			}, Field{
				Key: "err",
				Val: err,
			})
		})
		a.telemetry.Emit(Event{
			Type: _const.EventMembershipUnavailable,
			Node: a.self,
			Time: time.Now().UTC(),
			Err:  err,
		})
		return NewClusterView(a.self)
	}

	// nodes 可能与其它Job共享底层数组，不能直接append
	return NewClusterView(append(nodes[:len(nodes):len(nodes)], a.self)...)
}

// IsOwner 判断本节点在当前视图下是否负责执行该Job
func (a *Allocator) IsOwner(ctx context.Context, desc *JobDescriptor) bool {
	if desc.Mode == _const.DistributionAll {
		return true
	}

	return Owner(desc.Index, desc.Total, a.View(ctx)) == a.self
}
