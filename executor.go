package cluster_cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownExecutor   = errors.New("unknown executor")
	ErrExecutorExists    = errors.New("executor already registered")
	ErrEmptyExecutorName = errors.New("executor name required")
)

// ExecutorFunc Job真正执行的业务逻辑，参数来自Job配置
type ExecutorFunc func(ctx context.Context, args ...any) error

// Executor 执行器抽象
type Executor interface {
	// Name Executor名称
	Name() string
	// Execute 执行方法
	Execute(ctx context.Context, args ...any) error
}

// Target Job的执行目标：执行器名称和参数列表，调度本身不关心其含义
type Target struct {
	Executor string
	Args     []any
}

// Invoker 根据Target执行任务，返回执行结果
type Invoker interface {
	Invoke(ctx context.Context, target Target) error
}

// ExecutorRegistry 本地的执行器注册中心，同时也是默认的Invoker
type ExecutorRegistry struct {
	mu         sync.RWMutex
	execCenter map[string]ExecutorFunc
}

func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{execCenter: map[string]ExecutorFunc{}}
}

// Register 注册执行器方法，同名重复注册返回错误
func (r *ExecutorRegistry) Register(name string, fn ExecutorFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyExecutorName
	}
	if fn == nil {
		return fmt.Errorf("executor %q: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.execCenter[name]; ok {
		return fmt.Errorf("%w: %s", ErrExecutorExists, name)
	}
	r.execCenter[name] = fn
	return nil
}

func (r *ExecutorRegistry) Lookup(name string) (ExecutorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.execCenter[name]
	return fn, ok
}

func (r *ExecutorRegistry) Invoke(ctx context.Context, target Target) error {
	fn, ok := r.Lookup(target.Executor)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecutor, target.Executor)
	}

	return fn(ctx, target.Args...)
}
