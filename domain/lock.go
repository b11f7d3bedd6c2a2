package domain

import "time"

// Lock Job级别的分布式锁
type Lock struct {
	Key   string
	Owner string
	// ExpiresAt 到期后锁可以被其它owner抢占
	ExpiresAt time.Time
}

func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
