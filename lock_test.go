package cluster_cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memLocker 内存实现，failures次TryLock返回false后才能获取
type memLocker struct {
	mu        sync.Mutex
	owners    map[string]string
	failures  int
	attempts  int
	unlockErr error
}

func newMemLocker() *memLocker {
	return &memLocker{owners: map[string]string{}}
}

func (m *memLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return false, nil
	}
	if _, ok := m.owners[key]; ok {
		return false, nil
	}
	m.owners[key] = owner
	return true, nil
}

func (m *memLocker) Unlock(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlockErr != nil {
		return m.unlockErr
	}
	if m.owners[key] != owner {
		return errors.New("not owner")
	}
	delete(m.owners, key)
	return nil
}

func (m *memLocker) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.owners[key]
	return ok
}

func TestWithLock(t *testing.T) {
	locker := newMemLocker()
	var heldDuringRun bool
	fn := WithLock(locker, "report", time.Minute, func(ctx context.Context, args ...any) error {
		heldDuringRun = locker.held("report")
		return nil
	})

	if err := fn(context.Background()); err != nil {
		t.Fatalf("locked executor error = %v", err)
	}
	if !heldDuringRun {
		t.Fatalf("lock not held while executor ran")
	}
	if locker.held("report") {
		t.Fatalf("lock still held after executor returned")
	}
}

func TestWithLock_Held(t *testing.T) {
	locker := newMemLocker()
	locker.owners["report"] = "other"
	called := false
	fn := WithLock(locker, "report", time.Minute, func(ctx context.Context, args ...any) error {
		called = true
		return nil
	})

	if err := fn(context.Background()); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("locked executor error = %v, want ErrLockHeld", err)
	}
	if called {
		t.Fatalf("executor ran without the lock")
	}
}

func TestWithLock_Retry(t *testing.T) {
	testCases := []struct {
		name     string
		failures int
		maxCount int
		wantErr  error
		attempts int
	}{
		{
			name:     "acquired after retries",
			failures: 2,
			maxCount: 3,
			attempts: 3,
		},
		{
			name:     "retries exhausted",
			failures: 5,
			maxCount: 2,
			wantErr:  ErrLockHeld,
			attempts: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			locker := newMemLocker()
			locker.failures = tc.failures
			fn := WithLock(locker, "k", time.Minute, nopExecutor,
				WithLockRetry(time.Millisecond, tc.maxCount))

			err := fn(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("locked executor error = %v, want %v", err, tc.wantErr)
			}
			if locker.attempts != tc.attempts {
				t.Fatalf("TryLock attempts = %d, want %d", locker.attempts, tc.attempts)
			}
		})
	}
}

func TestWithLock_RetryStopsOnCancel(t *testing.T) {
	locker := newMemLocker()
	locker.owners["k"] = "other"
	fn := WithLock(locker, "k", time.Minute, nopExecutor, WithLockRetry(time.Hour, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := fn(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("locked executor error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWithLock_UnlockErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	locker := newMemLocker()
	locker.unlockErr = errors.New("store unavailable")

	fn := WithLock(locker, "k", time.Minute, nopExecutor, WithLockLogger(NewZapLogger(zap.New(core))))
	if err := fn(context.Background()); err != nil {
		t.Fatalf("locked executor error = %v, want nil", err)
	}
	if logs.FilterMessage("failed to release job lock").Len() != 1 {
		t.Fatalf("unlock failure was not logged: %v", logs.All())
	}
}
