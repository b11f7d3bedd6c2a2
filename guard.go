package cluster_cron

import "sync/atomic"

// ExecutionGuard 记录Job的上一次执行是否仍在进行中
// 同一进程内任意时刻最多只有一个执行持有guard，不提供跨进程的保证
type ExecutionGuard struct {
	running atomic.Bool
}

// TryAcquire 原子地将运行标识从false置为true，成功返回true
func (g *ExecutionGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release 无条件清除运行标识
func (g *ExecutionGuard) Release() {
	g.running.Store(false)
}

// Running 当前是否有执行在进行中
func (g *ExecutionGuard) Running() bool {
	return g.running.Load()
}
