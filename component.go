package gotxm

import (
	"context"
	"time"
)

// Participant 参与到事务中的资源管理者
type Participant interface {
	// 返回参与者唯一 id
	ID() string
	// 第一阶段投票
	Prepare(ctx context.Context, txID int64) (Vote, error)
	// 第二阶段提交
	Commit(ctx context.Context, txID int64) error
	// 第二阶段回滚
	Abort(ctx context.Context, txID int64) error
	// 参与者当前的 crash count
	CrashCount() int64
}

// PrepareCommitter 可选实现，事务只有一个参与者时走一阶段提交
type PrepareCommitter interface {
	PrepareAndCommit(ctx context.Context, txID int64) (Vote, error)
}

// ParticipantInfo 参与者的可持久化描述，写入事务日志
type ParticipantInfo struct {
	ID          string `json:"id"`
	CrashCount  int64  `json:"crashCount"`
	PartitionID *int32 `json:"partitionID,omitempty"`
	ClusterName string `json:"clusterName,omitempty"`
}

// ParticipantRehydrator 恢复流程中根据日志里的描述重新取得参与者句柄
type ParticipantRehydrator interface {
	Rehydrate(ctx context.Context, info ParticipantInfo) (Participant, error)
}

// Locker 分布式锁，避免多个协调者节点同时推进同一笔事务
type Locker interface {
	Lock(ctx context.Context, key string, expire time.Duration) error
	Unlock(ctx context.Context, key string) error
}
