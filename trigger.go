package cluster_cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"golang.org/x/sync/semaphore"
)

var ErrExecutorPanic = errors.New("executor panicked")

// trigger 单个Job的触发循环，每个整秒判断一次是否需要执行
// 执行是异步的，慢任务不会推迟自己或其它Job的下一次判断
type trigger struct {
	desc      *JobDescriptor
	guard     *ExecutionGuard
	alloc     *Allocator
	invoker   Invoker
	limiter   *semaphore.Weighted
	telemetry Telemetry
	logger    Logger
	now       func() time.Time
	// 所有Job共享，用于停止时等待执行中的任务
	inflight *sync.WaitGroup

	state   atomic.Int32
	fired   atomic.Uint64
	skipped atomic.Uint64

	mu       sync.Mutex
	lastFire time.Time
	lastErr  string
}

func (t *trigger) Run(ctx context.Context) error {
	t.state.CompareAndSwap(0, int32(_const.JobStateIdle))

	next := nextTick(t.now(), time.Time{})
	timer := time.NewTimer(next.Sub(t.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		t.tick(ctx, next)

		// 每次都根据墙上时钟重新对齐到下一个整秒，避免误差累积
		next = nextTick(t.now(), next)
		timer.Reset(next.Sub(t.now()))
	}
}

// nextTick 返回now之后的下一个UTC整秒，并保证严格晚于上一次的tick
func nextTick(now, prev time.Time) time.Time {
	next := now.UTC().Truncate(_const.TickInterval).Add(_const.TickInterval)
	if !prev.IsZero() && !next.After(prev) {
		next = prev.Add(_const.TickInterval)
	}
	return next
}

// tick 对一个tick做判断：表达式 -> owner -> guard -> 限流，全部通过才会执行
// 执行中的Job再次命中时直接丢弃，不排队也不重试
func (t *trigger) tick(ctx context.Context, at time.Time) {
	t.state.CompareAndSwap(int32(_const.JobStateIdle), int32(_const.JobStateEvaluating))
	defer t.state.CompareAndSwap(int32(_const.JobStateEvaluating), int32(_const.JobStateIdle))

	t.emit(_const.EventTickEvaluated, at)
	if !t.desc.Spec.Matches(at) {
		return
	}

	if !t.alloc.IsOwner(ctx, t.desc) {
		t.skipped.Add(1)
		t.emit(_const.EventJobSkippedNotOwner, at)
		return
	}

	if !t.guard.TryAcquire() {
		t.skipped.Add(1)
		t.logger.Debug("job still running, skip this tick", Field{
			Key: "job",
			Val: t.desc.Name,
		}, Field{
			Key: "tick",
			Val: at,
		})
		t.emit(_const.EventJobSkippedOverlap, at)
		return
	}

	if !t.limiter.TryAcquire(1) {
		t.guard.Release()
		t.skipped.Add(1)
		t.logger.Warn("node concurrency limit reached, skip this tick", Field{
			Key: "job",
			Val: t.desc.Name,
		})
		t.emit(_const.EventJobSkippedLimit, at)
		return
	}

	t.fired.Add(1)
	t.mu.Lock()
	t.lastFire = at
	t.mu.Unlock()
	t.state.Store(int32(_const.JobStateInvoking))
	t.emit(_const.EventJobFired, at)

	t.inflight.Add(1)
	go t.invoke(ctx, at)
}

func (t *trigger) invoke(ctx context.Context, at time.Time) {
	defer t.inflight.Done()

	start := time.Now()
	err := t.call(ctx)
	dur := time.Since(start)

	// 先回到Idle再释放guard，避免覆盖下一次执行设置的状态
	t.state.Store(int32(_const.JobStateIdle))
	t.guard.Release()
	t.limiter.Release(1)

	t.mu.Lock()
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("failed to execute job", Field{
			Key: "job",
			Val: t.desc.Name,
		}, Field{
			Key: "err",
			Val: err,
		})
	} else {
		t.logger.Debug("job executed", Field{
			Key: "job",
			Val: t.desc.Name,
		}, Field{
			Key: "took",
			Val: dur,
		})
	}

	t.telemetry.Emit(Event{
		Type:     _const.EventInvocationCompleted,
		Job:      t.desc.Name,
		Index:    t.desc.Index,
		Node:     t.alloc.Self(),
		Time:     at,
		Success:  err == nil,
		Err:      err,
		Duration: dur,
	})
}

// call 执行任务，停止调度循环不会中断正在执行的任务
func (t *trigger) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()

	lctx := context.WithoutCancel(ctx)
	if t.desc.Timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(lctx, t.desc.Timeout)
		defer cancel()
	}

	return t.invoker.Invoke(lctx, t.desc.Target)
}

func (t *trigger) emit(typ _const.EventType, at time.Time) {
	t.telemetry.Emit(Event{
		Type:  typ,
		Job:   t.desc.Name,
		Index: t.desc.Index,
		Node:  t.alloc.Self(),
		Time:  at,
	})
}

// JobSnapshot Job当前状态的只读视图，用于诊断
type JobSnapshot struct {
	Name     string
	Index    int
	Schedule string
	Mode     _const.DistributionMode
	State    _const.JobState
	Running  bool
	Fired    uint64
	Skipped  uint64
	LastFire time.Time
	LastErr  string
}

func (t *trigger) snapshot() JobSnapshot {
	t.mu.Lock()
	lastFire, lastErr := t.lastFire, t.lastErr
	t.mu.Unlock()

	state := _const.JobState(t.state.Load())
	if state == 0 {
		state = _const.JobStateIdle
	}

	return JobSnapshot{
		Name:     t.desc.Name,
		Index:    t.desc.Index,
		Schedule: t.desc.Spec.String(),
		Mode:     t.desc.Mode,
		State:    state,
		Running:  t.guard.Running(),
		Fired:    t.fired.Load(),
		Skipped:  t.skipped.Load(),
		LastFire: lastFire,
		LastErr:  lastErr,
	}
}
