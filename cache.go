package cluster_cron

import (
	"context"
	"sync"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"golang.org/x/sync/singleflight"
)

var _ Membership = (*CachedMembership)(nil)

// CachedMembership 在ttl内复用上一次成功查询到的节点列表
// 同一秒内所有Job的判断共享一次查询，并发的查询通过singleflight合并
// 查询失败不会被缓存
type CachedMembership struct {
	inner Membership
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	nodes   []NodeID
	expires time.Time
}

func NewCachedMembership(inner Membership, ttl time.Duration) *CachedMembership {
	return &CachedMembership{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *CachedMembership) CurrentNodes(ctx context.Context) ([]NodeID, error) {
	if nodes, ok := c.get(); ok {
		return nodes, nil
	}

	ch := c.group.DoChan("nodes", func() (any, error) {
		// 查询不绑定任何一个调用方的取消，某个调用方退出不会让其它合并的调用方失败
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _const.MembershipTimeout)
		defer cancel()
		if nodes, ok := c.get(); ok {
			return nodes, nil
		}
		nodes, err := c.inner.CurrentNodes(lctx)
		if err != nil {
			return nil, err
		}
		c.set(nodes)
		return nodes, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]NodeID(nil), res.Val.([]NodeID)...), nil
	}
}

// Invalidate 丢弃缓存，下一次调用重新查询
func (c *CachedMembership) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes, c.expires = nil, time.Time{}
}

func (c *CachedMembership) get() ([]NodeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expires.IsZero() || !c.now().Before(c.expires) {
		return nil, false
	}
	return append([]NodeID(nil), c.nodes...), true
}

func (c *CachedMembership) set(nodes []NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append([]NodeID(nil), nodes...)
	c.expires = c.now().Add(c.ttl)
}
