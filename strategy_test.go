package cluster_cron

import (
	"errors"
	"testing"
	"time"
)

func TestFixedRetryStrategy(t *testing.T) {
	s := NewFixedRetryStrategy(10*time.Millisecond, 2)
	for i := 0; i < 2; i++ {
		interval, err := s.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if interval != 10*time.Millisecond {
			t.Fatalf("Next() #%d = %s, want 10ms", i, interval)
		}
	}
	if _, err := s.Next(); !errors.Is(err, ErrOverMaxCount) {
		t.Fatalf("Next() after max count error = %v, want ErrOverMaxCount", err)
	}
}
