package gotxm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type txParticipant struct {
	info   ParticipantInfo
	handle Participant
	// prepare 阶段的投票，未投票时为空
	vote Vote
	// 第二阶段已经完成，重试时跳过
	completed bool
}

// transaction 一笔存活事务的状态
type transaction struct {
	id        int64
	xid       string
	leaseID   uuid.UUID
	reentered bool

	// opMu 串行化同一事务上的 prepare / commit / abort
	opMu sync.Mutex

	// mu 保护下面的字段
	mu           sync.Mutex
	state        TXState
	participants []*txParticipant
	expiration   time.Time
	forever      bool
	// 租约被取消或者已经过期
	done bool

	// 同一时刻只允许一个第二阶段流程
	settling  atomic.Bool
	retryTick atomic.Duration

	settled    chan struct{}
	settleOnce sync.Once
}

func newTransaction(id int64, xid string, leaseID uuid.UUID) *transaction {
	return &transaction{
		id:      id,
		xid:     xid,
		leaseID: leaseID,
		state:   TXActive,
		settled: make(chan struct{}),
	}
}

func (tx *transaction) key() TXKey {
	if tx.xid != "" {
		return ExternalKey(tx.xid)
	}
	return InternalKey(tx.id)
}

func (tx *transaction) leaseLapsedLocked(now time.Time) bool {
	if tx.done {
		return true
	}
	return !tx.forever && !now.Before(tx.expiration)
}

func (tx *transaction) setStateLocked(next TXState) error {
	if tx.state == next {
		return nil
	}
	if !tx.state.canMoveTo(next) {
		return fmt.Errorf("invalid transition from %s to %s, tx: %d", tx.state, next, tx.id)
	}
	tx.state = next
	return nil
}

func (tx *transaction) findParticipantLocked(id string) (int, *txParticipant) {
	for i, p := range tx.participants {
		if p.info.ID == id {
			return i, p
		}
	}
	return -1, nil
}

// secondPhaseLocked 返回第二阶段仍需调用的参与者
func (tx *transaction) secondPhaseLocked() []*txParticipant {
	pending := make([]*txParticipant, 0, len(tx.participants))
	for _, p := range tx.participants {
		if p.completed {
			continue
		}
		switch tx.state {
		case TXCommitting:
			if p.vote != VotePrepared {
				continue
			}
		case TXAborting:
			// 投了 abort 或者只读的参与者不需要回滚
			if p.vote == VoteAborted || p.vote == VoteNotChanged {
				continue
			}
		}
		pending = append(pending, p)
	}
	return pending
}

func (tx *transaction) preparedInfosLocked() []ParticipantInfo {
	infos := make([]ParticipantInfo, 0, len(tx.participants))
	for _, p := range tx.participants {
		if p.vote == VotePrepared {
			infos = append(infos, p.info)
		}
	}
	return infos
}

func (tx *transaction) snapshotLocked() TXSnapshot {
	infos := make([]ParticipantInfo, 0, len(tx.participants))
	for _, p := range tx.participants {
		infos = append(infos, p.info)
	}
	return TXSnapshot{
		ID:           tx.id,
		XID:          tx.xid,
		State:        tx.state,
		Participants: infos,
		Expiration:   tx.expiration,
		Forever:      tx.forever,
		Reentered:    tx.reentered,
	}
}

func (tx *transaction) finish() {
	tx.settleOnce.Do(func() { close(tx.settled) })
}

func (tx *transaction) isSettled() bool {
	select {
	case <-tx.settled:
		return true
	default:
		return false
	}
}
