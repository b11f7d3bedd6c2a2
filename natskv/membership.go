package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/TimeWtr/cluster_cron"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	BucketNodes = "cluster-cron-nodes"
	BucketLocks = "cluster-cron-locks"
)

var _ cluster_cron.Membership = (*Membership)(nil)

// Membership 基于JetStream KV的成员发现，每个节点一个key
// 节点停止心跳后key随bucket的TTL过期
type Membership struct {
	kv   jetstream.KeyValue
	self cluster_cron.NodeID
	ttl  time.Duration
}

// NewMembership 创建或更新心跳bucket
func NewMembership(ctx context.Context, js jetstream.JetStream, self cluster_cron.NodeID, ttl time.Duration) (*Membership, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketNodes,
		Storage: jetstream.MemoryStorage,
		TTL:     ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("creating KV bucket %s: %w", BucketNodes, err)
	}

	return &Membership{kv: kv, self: self, ttl: ttl}, nil
}

// Heartbeat 刷新本节点的key
func (m *Membership) Heartbeat(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err := m.kv.Put(ctx, encodeKey(string(m.self)), []byte(now))
	return err
}

func (m *Membership) CurrentNodes(ctx context.Context) ([]cluster_cron.NodeID, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}

	nodes := make([]cluster_cron.NodeID, 0, len(keys))
	for _, key := range keys {
		id, err := decodeKey(key)
		if err != nil {
			continue
		}
		nodes = append(nodes, cluster_cron.NodeID(id))
	}
	return nodes, nil
}

// Run 每ttl/3上报一次心跳，直到ctx取消
func (m *Membership) Run(ctx context.Context) error {
	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	if err := m.Heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Heartbeat(ctx); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

// Leave 删除本节点的key，其它节点立即重新分配
func (m *Membership) Leave(ctx context.Context) error {
	return m.kv.Delete(ctx, encodeKey(string(m.self)))
}

// KV的key只允许 [-/_=.a-zA-Z0-9]，host:port 这样的节点ID需要编码
func encodeKey(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeKey(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
