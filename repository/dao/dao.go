package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLockNotHeld = errors.New("lock not held by owner")

// InitTables 创建节点心跳表和锁表
func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&NodeHeartbeat{}, &JobLock{})
}

type NodeHeartbeat struct {
	// NodeID 节点唯一标识
	NodeID string `gorm:"column:node_id;type:varchar(255);primaryKey;not null" json:"node_id"`
	// LastHeartbeat 最近一次心跳时间，毫秒
	LastHeartbeat int64 `gorm:"column:last_heartbeat;type:bigint;not null;index" json:"last_heartbeat"`
	// CreatedTime 第一次心跳时间，毫秒
	CreatedTime int64 `gorm:"column:created_time;type:bigint;not null" json:"created_time"`
}

func (NodeHeartbeat) TableName() string {
	return "cron_nodes"
}

type JobLock struct {
	// LockKey 锁的唯一标识
	LockKey string `gorm:"column:lock_key;type:varchar(255);primaryKey;not null" json:"lock_key"`
	// Owner 持有者，每次获取锁时随机生成
	Owner string `gorm:"column:owner;type:varchar(64);not null" json:"owner"`
	// ExpiresAt 过期时间，毫秒
	ExpiresAt int64 `gorm:"column:expires_at;type:bigint;not null" json:"expires_at"`
	// CreatedTime 创建时间，毫秒
	CreatedTime int64 `gorm:"column:created_time;type:bigint;not null" json:"created_time"`
}

func (JobLock) TableName() string {
	return "cron_job_locks"
}

type NodeDAO interface {
	// Heartbeat 上报心跳，不存在时插入
	Heartbeat(ctx context.Context, nodeID string, now time.Time) error
	// ListAlive 查询since之后有心跳的节点，按节点ID排序
	ListAlive(ctx context.Context, since time.Time) ([]NodeHeartbeat, error)
	// Delete 节点主动退出
	Delete(ctx context.Context, nodeID string) error
}

type GORMNodeDAO struct {
	db *gorm.DB
}

func NewGORMNodeDAO(db *gorm.DB) NodeDAO {
	return &GORMNodeDAO{db: db}
}

func (g *GORMNodeDAO) Heartbeat(ctx context.Context, nodeID string, now time.Time) error {
	ms := now.UnixMilli()
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_heartbeat"}),
	}).Create(&NodeHeartbeat{
		NodeID:        nodeID,
		LastHeartbeat: ms,
		CreatedTime:   ms,
	}).Error
}

func (g *GORMNodeDAO) ListAlive(ctx context.Context, since time.Time) ([]NodeHeartbeat, error) {
	var nodes []NodeHeartbeat
	err := g.db.WithContext(ctx).Where("last_heartbeat >= ?", since.UnixMilli()).
		Order("node_id").Find(&nodes).Error
	return nodes, err
}

func (g *GORMNodeDAO) Delete(ctx context.Context, nodeID string) error {
	return g.db.WithContext(ctx).Where("node_id = ?", nodeID).Delete(&NodeHeartbeat{}).Error
}

type LockDAO interface {
	// TryLock 锁不存在或已过期时获取成功
	TryLock(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error)
	// Unlock 只删除owner持有的锁
	Unlock(ctx context.Context, key, owner string) error
	Get(ctx context.Context, key string) (JobLock, error)
}

type GORMLockDAO struct {
	db *gorm.DB
}

func NewGORMLockDAO(db *gorm.DB) LockDAO {
	return &GORMLockDAO{db: db}
}

func (g *GORMLockDAO) TryLock(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	ms := now.UnixMilli()
	// 清理已经过期的锁
	err := g.db.WithContext(ctx).Where("lock_key = ? AND expires_at <= ?", key, ms).
		Delete(&JobLock{}).Error
	if err != nil {
		return false, err
	}

	// 依赖主键冲突保证只有一个owner插入成功
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&JobLock{
			LockKey:     key,
			Owner:       owner,
			ExpiresAt:   now.Add(ttl).UnixMilli(),
			CreatedTime: ms,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func (g *GORMLockDAO) Unlock(ctx context.Context, key, owner string) error {
	res := g.db.WithContext(ctx).Where("lock_key = ? AND owner = ?", key, owner).
		Delete(&JobLock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockNotHeld
	}

	return nil
}

func (g *GORMLockDAO) Get(ctx context.Context, key string) (JobLock, error) {
	var l JobLock
	err := g.db.WithContext(ctx).Where("lock_key = ?", key).First(&l).Error
	return l, err
}
