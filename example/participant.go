package example

import (
	"context"
	"errors"
	"fmt"

	"github.com/demdxx/gocast"
	"github.com/xiaoxuxiansheng/gotxm"
	"github.com/xiaoxuxiansheng/gotxm/example/pkg"
	"github.com/xiaoxuxiansheng/redis_lock"
)

// 参与者侧记录的一笔事务的状态
type TXStatus string

func (t TXStatus) String() string {
	return string(t)
}

const (
	TXPrepared  TXStatus = "prepared"  // 已投票 prepared
	TXCommitted TXStatus = "committed" // 已提交
	TXAborted   TXStatus = "aborted"   // 已回滚
)

// 一笔事务对应数据的状态
type DataStatus string

func (d DataStatus) String() string {
	return string(d)
}

const (
	DataFrozen     DataStatus = "frozen"     // 冻结态
	DataSuccessful DataStatus = "successful" // 成功态
)

// RedisParticipant 基于 redis 的参与者. Stage 登记本次事务要修改的业务数据，
// Prepare 将数据冻结，Commit 置为成功态，Abort 删除冻结记录
type RedisParticipant struct {
	id         string
	crashCount int64
	client     *redis_lock.Client
	// redis key 的作用域，带上协调者名称后不同协调者的同号事务互不干扰
	scope string
}

type ParticipantOption func(*RedisParticipant)

// WithNamespace 以协调者名称划分参与者侧的 key
func WithNamespace(namespace string) ParticipantOption {
	return func(r *RedisParticipant) {
		if namespace != "" {
			r.scope = namespace + ":" + r.id
		}
	}
}

func NewRedisParticipant(id string, crashCount int64, client *redis_lock.Client, opts ...ParticipantOption) *RedisParticipant {
	r := &RedisParticipant{
		id:         id,
		crashCount: crashCount,
		client:     client,
		scope:      id,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisParticipant) ID() string {
	return r.id
}

func (r *RedisParticipant) CrashCount() int64 {
	return r.crashCount
}

func (r *RedisParticipant) withLock(ctx context.Context, txID int64, do func() error) error {
	// 基于 txID 维度加锁
	lock := redis_lock.NewRedisLock(pkg.BuildTXLockKey(r.scope, txID), r.client)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock(ctx)
	}()
	return do()
}

// Stage 记录事务与业务 id 的关系
func (r *RedisParticipant) Stage(ctx context.Context, txID int64, bizID interface{}) error {
	return r.withLock(ctx, txID, func() error {
		_, err := r.client.Set(ctx, pkg.BuildTXDetailKey(r.scope, txID), gocast.ToString(bizID))
		return err
	})
}

func (r *RedisParticipant) Prepare(ctx context.Context, txID int64) (gotxm.Vote, error) {
	vote := gotxm.VoteAborted
	err := r.withLock(ctx, txID, func() error {
		// 基于 txID 幂等性去重
		txStatus, err := r.client.Get(ctx, pkg.BuildTXKey(r.scope, txID))
		if err != nil && !errors.Is(err, redis_lock.ErrNil) {
			return err
		}
		switch txStatus {
		case TXPrepared.String(), TXCommitted.String():
			vote = gotxm.VotePrepared
			return nil
		case TXAborted.String(): // 先 abort，后收到 prepare 请求，拒绝
			return nil
		default:
		}

		bizID, err := r.client.Get(ctx, pkg.BuildTXDetailKey(r.scope, txID))
		if errors.Is(err, redis_lock.ErrNil) || (err == nil && bizID == "") {
			// 本次事务未修改任何数据
			vote = gotxm.VoteNotChanged
			return nil
		}
		if err != nil {
			return err
		}

		// 要求必须从零到一把 bizID 对应的数据置为冻结态
		reply, err := r.client.SetNX(ctx, pkg.BuildDataKey(r.scope, txID, bizID), DataFrozen.String())
		if err != nil {
			return err
		}
		if reply != 1 {
			return nil
		}

		if _, err = r.client.Set(ctx, pkg.BuildTXKey(r.scope, txID), TXPrepared.String()); err != nil {
			return err
		}
		vote = gotxm.VotePrepared
		return nil
	})
	if err != nil {
		return gotxm.VoteAborted, err
	}
	return vote, nil
}

func (r *RedisParticipant) Commit(ctx context.Context, txID int64) error {
	return r.withLock(ctx, txID, func() error {
		txStatus, err := r.client.Get(ctx, pkg.BuildTXKey(r.scope, txID))
		if err != nil {
			return err
		}
		switch txStatus {
		case TXCommitted.String(): // 已提交，幂等响应
			return nil
		case TXPrepared.String():
		default:
			return fmt.Errorf("invalid tx status: %s, txid: %d", txStatus, txID)
		}

		bizID, err := r.client.Get(ctx, pkg.BuildTXDetailKey(r.scope, txID))
		if err != nil {
			return err
		}

		// 要求对应的数据状态此前为 frozen
		dataStatus, err := r.client.Get(ctx, pkg.BuildDataKey(r.scope, txID, bizID))
		if err != nil {
			return err
		}
		if dataStatus != DataFrozen.String() {
			return fmt.Errorf("invalid data status: %s, txid: %d", dataStatus, txID)
		}

		if _, err = r.client.Set(ctx, pkg.BuildDataKey(r.scope, txID, bizID), DataSuccessful.String()); err != nil {
			return err
		}

		// 数据已置为成功态，事务状态更新失败不阻塞主流程
		_, _ = r.client.Set(ctx, pkg.BuildTXKey(r.scope, txID), TXCommitted.String())
		return nil
	})
}

func (r *RedisParticipant) Abort(ctx context.Context, txID int64) error {
	return r.withLock(ctx, txID, func() error {
		txStatus, err := r.client.Get(ctx, pkg.BuildTXKey(r.scope, txID))
		if err != nil && !errors.Is(err, redis_lock.ErrNil) {
			return err
		}
		// 先 commit 后 abort，属于非法的状态扭转链路
		if txStatus == TXCommitted.String() {
			return fmt.Errorf("invalid tx status: %s, txid: %d", txStatus, txID)
		}

		bizID, err := r.client.Get(ctx, pkg.BuildTXDetailKey(r.scope, txID))
		if err != nil && !errors.Is(err, redis_lock.ErrNil) {
			return err
		}

		// 删除对应的 frozen 冻结记录
		if bizID != "" && txStatus == TXPrepared.String() {
			if err = r.client.Del(ctx, pkg.BuildDataKey(r.scope, txID, bizID)); err != nil {
				return err
			}
		}

		_, _ = r.client.Set(ctx, pkg.BuildTXKey(r.scope, txID), TXAborted.String())
		return nil
	})
}
