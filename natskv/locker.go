package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TimeWtr/cluster_cron"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	_ cluster_cron.Locker = (*Locker)(nil)

	ErrLockNotHeld = errors.New("lock not held by owner")
)

type lockValue struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expires_at"`
}

// Locker 基于KV Create实现的分布式锁
// 过期时间保存在value中，每把锁可以有各自的ttl
type Locker struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

func NewLocker(ctx context.Context, js jetstream.JetStream) (*Locker, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketLocks,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating KV bucket %s: %w", BucketLocks, err)
	}

	return &Locker{kv: kv, now: time.Now}, nil
}

func (l *Locker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := l.now()
	data, err := json.Marshal(lockValue{Owner: owner, ExpiresAt: now.Add(ttl).UnixMilli()})
	if err != nil {
		return false, err
	}

	k := encodeKey(key)
	_, err = l.kv.Create(ctx, k, data)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return false, err
	}

	// key已存在，只有持有者的锁过期后才能通过CAS抢占
	entry, err := l.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	var cur lockValue
	if err := json.Unmarshal(entry.Value(), &cur); err == nil && now.UnixMilli() < cur.ExpiresAt {
		return false, nil
	}

	if _, err := l.kv.Update(ctx, k, data, entry.Revision()); err != nil {
		// revision不匹配说明被其它节点抢先
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Locker) Unlock(ctx context.Context, key, owner string) error {
	k := encodeKey(key)
	entry, err := l.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrLockNotHeld
		}
		return err
	}

	var cur lockValue
	if err := json.Unmarshal(entry.Value(), &cur); err != nil {
		return fmt.Errorf("unmarshal lock %s: %w", key, err)
	}
	if cur.Owner != owner {
		return ErrLockNotHeld
	}

	return l.kv.Delete(ctx, k, jetstream.LastRevision(entry.Revision()))
}
