package _const

import "time"

const (
	// DefaultLimiter 单节点默认允许同时执行的Job数量
	DefaultLimiter = 1024
	// TickInterval 调度判断的粒度
	TickInterval = time.Second
	// MembershipTimeout 单次获取集群节点列表的超时时间
	MembershipTimeout = time.Second
	// MembershipWarnInterval 节点列表不可用时告警日志的最小间隔
	MembershipWarnInterval = 5 * time.Second
)
