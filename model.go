package gotxm

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// EmbeddedCrashCount 嵌入式调用方加入事务时使用的 crash count，会尝试走缓存的快速路径
const EmbeddedCrashCount int64 = math.MinInt64

// TXKey 事务标识，要么是内部生成的数字 id，要么是调用方传入的外部 xid
type TXKey struct {
	id       int64
	xid      string
	external bool
}

func InternalKey(id int64) TXKey {
	return TXKey{id: id}
}

func ExternalKey(xid string) TXKey {
	return TXKey{xid: xid, external: true}
}

func (k TXKey) IsExternal() bool {
	return k.external
}

func (k TXKey) ID() int64 {
	return k.id
}

func (k TXKey) XID() string {
	return k.xid
}

func (k TXKey) String() string {
	if k.external {
		return "xid:" + k.xid
	}
	return cast.ToString(k.id)
}

// 事务状态
type TXState string

const (
	TXActive     TXState = "active"
	TXPreparing  TXState = "preparing"
	TXPrepared   TXState = "prepared"
	TXCommitting TXState = "committing"
	TXAborting   TXState = "aborting"
	TXCommitted  TXState = "committed"
	TXAborted    TXState = "aborted"
)

func (s TXState) String() string {
	return string(s)
}

func (s TXState) IsTerminal() bool {
	return s == TXCommitted || s == TXAborted
}

// rank 状态机中的先后次序，aborting 可以从任意非终态进入
func (s TXState) rank() int {
	switch s {
	case TXActive:
		return 0
	case TXPreparing:
		return 1
	case TXPrepared:
		return 2
	case TXCommitting, TXAborting:
		return 3
	case TXCommitted, TXAborted:
		return 4
	}
	return -1
}

// canMoveTo 校验状态迁移是否单调
func (s TXState) canMoveTo(next TXState) bool {
	switch next {
	case TXCommitting:
		return s == TXPrepared || s == TXPreparing || s == TXActive
	case TXCommitted:
		return s == TXCommitting || s == TXPreparing
	case TXAborting:
		return !s.IsTerminal() && s != TXCommitting
	case TXAborted:
		return s == TXAborting
	}
	return next.rank() > s.rank()
}

// 参与者在 prepare 阶段的投票结果
type Vote string

const (
	// 参与者已就绪，等待提交
	VotePrepared Vote = "prepared"
	// 参与者没有任何修改，无需第二阶段
	VoteNotChanged Vote = "not_changed"
	// 参与者拒绝提交
	VoteAborted Vote = "aborted"
)

func (v Vote) String() string {
	return string(v)
}

// Lease 事务创建时返回给调用方的租约
type Lease struct {
	ID         uuid.UUID
	Expiration time.Time
	// Forever 为 true 时 Expiration 没有意义
	Forever bool
}

// Created create 的返回结果
type Created struct {
	ID    int64
	XID   string
	Lease Lease
}

// Key 返回新事务对应的 TXKey
func (c *Created) Key() TXKey {
	if c.XID != "" {
		return ExternalKey(c.XID)
	}
	return InternalKey(c.ID)
}

// TXSnapshot 事务的只读视图
type TXSnapshot struct {
	ID           int64
	XID          string
	State        TXState
	Participants []ParticipantInfo
	Expiration   time.Time
	Forever      bool
	Reentered    bool
}
