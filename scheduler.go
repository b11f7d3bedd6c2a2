package cluster_cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"github.com/TimeWtr/cluster_cron/supervisor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
)

type Scheduler interface {
	// Start 解析Job列表并为每个合法的Job启动触发循环，
	// 配置错误的Job不会启动，也不会影响其它Job，所有错误合并后返回
	Start(ctx context.Context, jobs []JobConfig) error
	// Stop 停止所有触发循环，并等待执行中的任务结束直到ctx到期
	Stop(ctx context.Context) error
	// Register 注册执行器方法
	Register(name string, executorFunc ExecutorFunc) error
	// Snapshot 所有Job的当前状态
	Snapshot() []JobSnapshot
}

var _ Scheduler = (*SchedulerCore)(nil)

type Options func(core *SchedulerCore)

func WithLogger(logger Logger) Options {
	return func(c *SchedulerCore) {
		c.logger = logger
	}
}

// WithZapLogger 使用zap记录日志，supervisor也会使用同一个logger
func WithZapLogger(l *zap.Logger) Options {
	return func(c *SchedulerCore) {
		c.logger = NewZapLogger(l)
		c.zap = l
	}
}

func WithTelemetry(telemetry Telemetry) Options {
	return func(c *SchedulerCore) {
		c.telemetry = telemetry
	}
}

// WithLimiter 设置节点并发执行的Job数量，没有配额的tick会被丢弃
func WithLimiter(limiter int64) Options {
	return func(c *SchedulerCore) {
		c.limiter = semaphore.NewWeighted(limiter)
	}
}

// WithDefaultMode 配置中mode为空时使用的分布策略，默认为single
func WithDefaultMode(mode _const.DistributionMode) Options {
	return func(c *SchedulerCore) {
		c.defaultMode = mode
	}
}

// WithInvoker 替换默认的执行器注册中心
func WithInvoker(invoker Invoker) Options {
	return func(c *SchedulerCore) {
		c.invoker = invoker
	}
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Options {
	return func(c *SchedulerCore) {
		c.now = now
	}
}

// WithMembershipCache 在ttl内复用节点列表，减少对成员发现后端的查询
// ttl 应小于1秒，否则成员变化需要更久才能反映到分配上
func WithMembershipCache(ttl time.Duration) Options {
	return func(c *SchedulerCore) {
		c.membershipCache = ttl
	}
}

// WithRestartBackoff 触发循环异常退出后的重启退避区间
func WithRestartBackoff(min, max time.Duration) Options {
	return func(c *SchedulerCore) {
		c.restartOpts = append(c.restartOpts, supervisor.WithRestartBackoff(min, max))
	}
}

type SchedulerCore struct {
	logger Logger
	zap    *zap.Logger
	// 本地的执行器注册中心
	execCenter *ExecutorRegistry
	invoker    Invoker
	alloc      *Allocator
	self       NodeID
	membership Membership
	// membershipCache 大于0时包装为CachedMembership
	membershipCache time.Duration
	telemetry       Telemetry
	// 限流
	limiter     *semaphore.Weighted
	defaultMode _const.DistributionMode
	now         func() time.Time
	restartOpts []supervisor.RestartOption

	mu       sync.Mutex
	sup      *supervisor.Supervisor
	triggers []*trigger
	inflight sync.WaitGroup
}

// NewSchedulerCore self 为本节点的标识，membership 为nil时按单节点处理
func NewSchedulerCore(
	self NodeID,
	membership Membership,
	opts ...Options) *SchedulerCore {
	scheduler := &SchedulerCore{
		execCenter:  NewExecutorRegistry(),
		self:        self,
		membership:  membership,
		defaultMode: _const.DistributionSingle,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	if scheduler.logger == nil {
		scheduler.logger = NewNopLogger()
	}
	if scheduler.zap == nil {
		scheduler.zap = zap.NewNop()
	}
	if scheduler.telemetry == nil {
		scheduler.telemetry = nopTelemetry{}
	}
	if scheduler.limiter == nil {
		scheduler.limiter = semaphore.NewWeighted(_const.DefaultLimiter)
	}
	if scheduler.invoker == nil {
		scheduler.invoker = scheduler.execCenter
	}
	if scheduler.membershipCache > 0 && scheduler.membership != nil {
		scheduler.membership = NewCachedMembership(scheduler.membership, scheduler.membershipCache)
	}
	scheduler.alloc = NewAllocator(self, scheduler.membership, scheduler.logger, scheduler.telemetry)

	return scheduler
}

func (s *SchedulerCore) Register(name string, executorFunc ExecutorFunc) error {
	return s.execCenter.Register(name, executorFunc)
}

// RegisterExecutor 以Executor.Name()注册执行器
func (s *SchedulerCore) RegisterExecutor(e Executor) error {
	return s.execCenter.Register(e.Name(), e.Execute)
}

func (s *SchedulerCore) Start(ctx context.Context, jobs []JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return ErrAlreadyStarted
	}

	var errs error
	triggers := make([]*trigger, 0, len(jobs))
	for i, cfg := range jobs {
		desc, err := s.descriptor(i, len(jobs), cfg)
		if err != nil {
			s.logger.Error("invalid job config, job will not start", Field{
				Key: "index",
				Val: i,
			}, Field{
				Key: "err",
				Val: err,
			})
			errs = multierr.Append(errs, err)
			continue
		}

		triggers = append(triggers, s.newTrigger(desc))
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.zap))
	s.triggers = triggers
	for _, t := range triggers {
		s.sup.GoRestart("job:"+t.desc.Name, t.Run, s.restartOpts...)
		s.logger.Info("job started", Field{
			Key: "job",
			Val: t.desc.Name,
		}, Field{
			Key: "schedule",
			Val: t.desc.Spec.String(),
		}, Field{
			Key: "mode",
			Val: t.desc.Mode.String(),
		}, Field{
			Key: "next",
			Val: t.desc.Spec.NextFireTimes(s.now(), 3),
		})
	}

	s.logger.Info("scheduler started", Field{
		Key: "node",
		Val: s.self,
	}, Field{
		Key: "jobs",
		Val: len(triggers),
	}, Field{
		Key: "invalid",
		Val: len(multierr.Errors(errs)),
	})

	return errs
}

// descriptor 解析配置，同时确认执行器已经注册
func (s *SchedulerCore) descriptor(index, total int, cfg JobConfig) (*JobDescriptor, error) {
	desc, err := NewJobDescriptor(index, total, cfg, s.defaultMode)
	if err != nil {
		return nil, err
	}
	if s.invoker == Invoker(s.execCenter) {
		if _, ok := s.execCenter.Lookup(desc.Executor); !ok {
			return nil, fmt.Errorf("job %s: %w: %s", desc.Name, ErrUnknownExecutor, desc.Executor)
		}
	}

	return desc, nil
}

func (s *SchedulerCore) newTrigger(desc *JobDescriptor) *trigger {
	return &trigger{
		desc:      desc,
		guard:     &ExecutionGuard{},
		alloc:     s.alloc,
		invoker:   s.invoker,
		limiter:   s.limiter,
		telemetry: s.telemetry,
		logger:    s.logger,
		now:       s.now,
		inflight:  &s.inflight,
	}
}

func (s *SchedulerCore) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}

	start := time.Now()
	err := sup.Stop(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// 不中断执行中的任务，只等待它们结束
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	s.logger.Info("scheduler stopped", Field{
		Key: "took",
		Val: time.Since(start),
	})
	return err
}

func (s *SchedulerCore) Snapshot() []JobSnapshot {
	s.mu.Lock()
	triggers := s.triggers
	s.mu.Unlock()

	res := make([]JobSnapshot, 0, len(triggers))
	for _, t := range triggers {
		res = append(res, t.snapshot())
	}
	return res
}

// SupervisorSnapshot 触发循环goroutine的运行统计
func (s *SchedulerCore) SupervisorSnapshot() supervisor.Snapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return supervisor.Snapshot{}
	}
	return sup.Snapshot()
}
