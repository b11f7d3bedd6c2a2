package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Supervisor 管理挂在同一个context上的goroutine
// - 按名称统计，便于日志和诊断
// - 捕获panic
// - GoRestart 异常退出后按指数退避重启
// - Stop 取消context并等待所有goroutine退出
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started uint64
	active  int64

	log      *zap.Logger
	errOnce  sync.Once
	firstErr atomic.Value
	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*gorStats
}

type Option func(*Supervisor)

// GoroutineStats 按名称聚合的goroutine统计
type GoroutineStats struct {
	Name        string
	Active      int64
	Started     uint64
	Panics      uint64
	Restarts    uint64
	LastStartAt time.Time
	LastStopAt  time.Time
	LastErr     string
	LastPanic   string
}

// Snapshot supervisor的时间点快照
type Snapshot struct {
	Active     int64
	Started    uint64
	FirstError string
	Goroutines []GoroutineStats
}

type gorStats struct {
	name        string
	active      int64
	started     uint64
	panics      uint64
	restarts    uint64
	lastStartAt time.Time
	lastStopAt  time.Time
	lastErr     string
	lastPanic   string
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    zap.NewNop(),
		doneCh: make(chan struct{}),
		stats:  map[string]*gorStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err 第一个被记录的错误
func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	gs := make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		gs = append(gs, GoroutineStats{
			Name:        st.name,
			Active:      st.active,
			Started:     st.started,
			Panics:      st.panics,
			Restarts:    st.restarts,
			LastStartAt: st.lastStartAt,
			LastStopAt:  st.lastStopAt,
			LastErr:     st.lastErr,
			LastPanic:   st.lastPanic,
		})
	}
	s.mu.Unlock()

	sort.Slice(gs, func(i, j int) bool {
		return gs[i].Name < gs[j].Name
	})
	snap.Goroutines = gs
	return snap
}

func (s *Supervisor) statsFor(name string) *gorStats {
	st := s.stats[name]
	if st == nil {
		st = &gorStats{name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, isRestart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsFor(name)
	st.started++
	if isRestart {
		st.restarts++
	}
	st.active++
	st.lastStartAt = time.Now()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsFor(name)
	if st.active > 0 {
		st.active--
	}
	st.lastStopAt = time.Now()
	if err != nil {
		st.lastErr = err.Error()
	}
}

func (s *Supervisor) notePanic(name string, p any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsFor(name)
	st.panics++
	st.lastPanic = fmt.Sprint(p)
}

// Go 启动一个goroutine，panic会被捕获并记录为错误，不会重启
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		s.noteStart(name, false)
		defer func() {
			if r := recover(); r != nil {
				s.notePanic(name, r)
				err := fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("goroutine panicked", zap.String("name", name),
					zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
				s.noteStop(name, err)
				s.setErr(err)
			}
		}()

		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)
			s.setErr(err)
			return
		}
		s.noteStop(name, nil)
	}()
}

// RestartOption 配置GoRestart
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // <=0 不限制
}

// WithRestartBackoff 重启之间指数退避的区间
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts 最多重启次数，首次运行不计入
func WithMaxRestarts(n int) RestartOption {
	return func(c *restartCfg) { c.maxRestarts = n }
}

// GoRestart 运行fn，返回错误或panic时按带抖动的指数退避重启，直到context被取消
// fn正常返回nil视为主动退出，不再重启
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		backoff := cfg.minBackoff
		restarts := 0
		for {
			if s.ctx.Err() != nil {
				return
			}

			startedAt := time.Now()
			s.noteStart(name, restarts > 0)
			err, pan := s.runOnce(fn)
			if pan != nil {
				s.notePanic(name, pan)
				err = fmt.Errorf("panic: %v", pan)
			}

			// 停止过程中的退出都视为正常退出
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) || err == nil {
				s.noteStop(name, nil)
				return
			}

			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)

			restarts++
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			if cfg.maxRestarts > 0 && restarts > cfg.maxRestarts {
				s.log.Error("goroutine gave up after restarts", zap.String("name", name),
					zap.Int("restarts", restarts), zap.Error(err))
				s.setErr(err)
				return
			}

			wait := backoff
			// 20%抖动
			if j := int64(wait) / 5; j > 0 {
				wait += time.Duration(time.Now().UnixNano() % (j + 1))
			}
			s.log.Warn("goroutine restarting", zap.String("name", name),
				zap.Duration("backoff", wait), zap.Error(err))

			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	}()
}

func (s *Supervisor) runOnce(fn func(ctx context.Context) error) (err error, pan any) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			s.log.Error("goroutine panicked (restart)", zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	return fn(s.ctx), nil
}

// Stop 取消context并等待所有goroutine退出，ctx到期时提前返回
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
