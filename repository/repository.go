package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/TimeWtr/cluster_cron"
	"github.com/TimeWtr/cluster_cron/domain"
	"github.com/TimeWtr/cluster_cron/repository/dao"
)

var (
	_ cluster_cron.Membership = (*NodeMembership)(nil)
	_ cluster_cron.Locker     = (*LockRepository)(nil)
)

// NodeMembership 基于数据库心跳表的成员发现
// ttl内有心跳的节点视为可达
type NodeMembership struct {
	dao  dao.NodeDAO
	self cluster_cron.NodeID
	ttl  time.Duration
	now  func() time.Time
}

func NewNodeMembership(d dao.NodeDAO, self cluster_cron.NodeID, ttl time.Duration) *NodeMembership {
	return &NodeMembership{
		dao:  d,
		self: self,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Heartbeat 上报本节点心跳
func (m *NodeMembership) Heartbeat(ctx context.Context) error {
	return m.dao.Heartbeat(ctx, string(m.self), m.now())
}

// Nodes 当前存活的节点
func (m *NodeMembership) Nodes(ctx context.Context) ([]domain.Node, error) {
	rows, err := m.dao.ListAlive(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return nil, err
	}

	nodes := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, toDomainNode(row))
	}
	return nodes, nil
}

func (m *NodeMembership) CurrentNodes(ctx context.Context) ([]cluster_cron.NodeID, error) {
	nodes, err := m.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alive nodes: %w", err)
	}

	res := make([]cluster_cron.NodeID, 0, len(nodes))
	for _, n := range nodes {
		res = append(res, cluster_cron.NodeID(n.ID))
	}
	return res, nil
}

// Run 按ttl/3的间隔持续上报心跳，直到ctx取消
// 心跳失败时返回错误，由supervisor负责重启
func (m *NodeMembership) Run(ctx context.Context) error {
	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	if err := m.Heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			lctx, cancel := context.WithTimeout(ctx, interval)
			err := m.Heartbeat(lctx)
			cancel()
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

// Leave 删除本节点的心跳，其它节点立即重新分配Job
func (m *NodeMembership) Leave(ctx context.Context) error {
	return m.dao.Delete(ctx, string(m.self))
}

func toDomainNode(row dao.NodeHeartbeat) domain.Node {
	return domain.Node{
		ID:            row.NodeID,
		LastHeartbeat: time.UnixMilli(row.LastHeartbeat),
		JoinedAt:      time.UnixMilli(row.CreatedTime),
	}
}

// LockRepository 基于数据库主键唯一性的分布式锁
type LockRepository struct {
	dao dao.LockDAO
	now func() time.Time
}

func NewLockRepository(d dao.LockDAO) *LockRepository {
	return &LockRepository{
		dao: d,
		now: time.Now,
	}
}

func (l *LockRepository) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.dao.TryLock(ctx, key, owner, l.now(), ttl)
}

func (l *LockRepository) Unlock(ctx context.Context, key, owner string) error {
	return l.dao.Unlock(ctx, key, owner)
}

func (l *LockRepository) Get(ctx context.Context, key string) (domain.Lock, error) {
	row, err := l.dao.Get(ctx, key)
	if err != nil {
		return domain.Lock{}, err
	}

	return domain.Lock{
		Key:       row.LockKey,
		Owner:     row.Owner,
		ExpiresAt: time.UnixMilli(row.ExpiresAt),
	}, nil
}
