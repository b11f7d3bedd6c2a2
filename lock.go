package cluster_cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock held by another owner")

// Locker 外部存储上的分布式锁：不存在时设置，持有者删除
// 用于对幂等性敏感的Job，在网络分区时避免重复执行
type Locker interface {
	// TryLock 尝试以owner身份获取key，ttl到期后锁自动失效
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Unlock 只有owner与持有者一致时才删除
	Unlock(ctx context.Context, key, owner string) error
}

type LockOption func(*lockCfg)

type lockCfg struct {
	newRetry func() RetryStrategy
	logger   Logger
}

// WithLockRetry 获取锁失败时按固定间隔重试maxCount次
func WithLockRetry(interval time.Duration, maxCount int) LockOption {
	return func(c *lockCfg) {
		c.newRetry = func() RetryStrategy {
			return NewFixedRetryStrategy(interval, maxCount)
		}
	}
}

func WithLockLogger(logger Logger) LockOption {
	return func(c *lockCfg) {
		c.logger = logger
	}
}

// WithLock 包装执行器：只有拿到锁才执行fn，执行结束后释放锁
// 锁由调用方选择和组合，调度本身不依赖它
func WithLock(locker Locker, key string, ttl time.Duration, fn ExecutorFunc, opts ...LockOption) ExecutorFunc {
	cfg := lockCfg{logger: NewNopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, args ...any) error {
		owner := uuid.NewString()
		if err := acquire(ctx, locker, key, owner, ttl, cfg.newRetry); err != nil {
			return err
		}

		defer func() {
			// 任务的ctx可能已经超时，释放锁使用独立的超时
			lctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := locker.Unlock(lctx, key, owner); err != nil {
				cfg.logger.Error("failed to release job lock", Field{
					Key: "key",
					Val: key,
				}, Field{
					Key: "err",
					Val: err,
				})
			}
		}()

		return fn(ctx, args...)
	}
}

func acquire(ctx context.Context, locker Locker, key, owner string, ttl time.Duration,
	newRetry func() RetryStrategy) error {
	var strategy RetryStrategy
	if newRetry != nil {
		strategy = newRetry()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		ok, err := locker.TryLock(ctx, key, owner, ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if strategy == nil {
			return fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		interval, err := strategy.Next()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
