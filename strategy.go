package cluster_cron

import (
	"errors"
	"time"
)

var ErrOverMaxCount = errors.New("over max count")

// RetryStrategy 重试间隔策略，返回ErrOverMaxCount表示不再重试
type RetryStrategy interface {
	Next() (time.Duration, error)
}

// FixedRetryStrategy 固定间隔重试，WithLockRetry 为每次执行创建一个新的实例，
// 锁被占用时按interval重试TryLock，超过maxCount后放弃本次执行
type FixedRetryStrategy struct {
	// 固定时间间隔
	interval time.Duration
	// 最大重试次数
	maxCount int
	// 当前已经重试的次数
	counter int
}

func NewFixedRetryStrategy(interval time.Duration, maxCount int) *FixedRetryStrategy {
	return &FixedRetryStrategy{
		interval: interval,
		maxCount: maxCount,
	}
}

func (s *FixedRetryStrategy) Next() (time.Duration, error) {
	if s.counter >= s.maxCount {
		return 0, ErrOverMaxCount
	}
	s.counter++
	return s.interval, nil
}
