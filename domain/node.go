package domain

import "time"

// Node 通过心跳上报的集群节点
type Node struct {
	// ID 节点唯一标识
	ID string
	// LastHeartbeat 最近一次心跳时间
	LastHeartbeat time.Time
	// JoinedAt 第一次上报心跳的时间
	JoinedAt time.Time
}

// Alive 在ttl内有心跳即认为节点存活
func (n Node) Alive(now time.Time, ttl time.Duration) bool {
	return !n.LastHeartbeat.Before(now.Add(-ttl))
}
