package gotxm

import (
	"context"
	"fmt"

	"github.com/xiaoxuxiansheng/gotxm/log"
)

// recoveredTX 回放日志得到的单笔事务
type recoveredTX struct {
	id           int64
	xid          string
	joined       []ParticipantInfo
	prepared     []ParticipantInfo
	votedPrepare bool
	aborting     bool
	terminal     bool
}

// intent 恢复后的推进方向：投票全部通过且没有记录回滚决定的事务前滚提交，其余回滚
func (r *recoveredTX) intent() TXState {
	if r.votedPrepare && !r.aborting {
		return TXCommitting
	}
	return TXAborting
}

func (r *recoveredTX) apply(record *LogRecord) error {
	switch record.Kind {
	case LogJoined:
		if record.Participant == nil {
			return fmt.Errorf("joined record without participant, tx: %d", record.TXID)
		}
		for i, info := range r.joined {
			if info.ID == record.Participant.ID {
				r.joined[i] = *record.Participant
				return nil
			}
		}
		r.joined = append(r.joined, *record.Participant)
	case LogDisjoined:
		if record.Participant == nil {
			return fmt.Errorf("disjoined record without participant, tx: %d", record.TXID)
		}
		for i, info := range r.joined {
			if info.ID == record.Participant.ID {
				r.joined = append(r.joined[:i], r.joined[i+1:]...)
				break
			}
		}
	case LogVotedPrepare:
		r.votedPrepare = true
		r.prepared = append([]ParticipantInfo(nil), record.Participants...)
	case LogAborting:
		r.aborting = true
	case LogCommitted, LogAborted:
		r.terminal = true
	default:
		return fmt.Errorf("unknown log kind: %q, tx: %d", record.Kind, record.TXID)
	}
	if record.XID != "" {
		r.xid = record.XID
	}
	return nil
}

// replayLog 按顺序回放日志，返回未到达终态的事务（按首次出现的顺序）以及日志中出现过的 id
func replayLog(ctx context.Context, txLog TXLog) ([]*recoveredTX, []int64, error) {
	byID := make(map[int64]*recoveredTX)
	var order []*recoveredTX
	var seen []int64
	err := txLog.Replay(ctx, func(record *LogRecord) error {
		if record == nil || record.TXID == 0 {
			return fmt.Errorf("corrupt log record: %+v", record)
		}
		r, ok := byID[record.TXID]
		if !ok {
			r = &recoveredTX{id: record.TXID}
			byID[record.TXID] = r
			order = append(order, r)
			seen = append(seen, record.TXID)
		}
		return r.apply(record)
	})
	if err != nil {
		return nil, nil, err
	}

	unsettled := make([]*recoveredTX, 0, len(order))
	for _, r := range order {
		if r.terminal {
			continue
		}
		unsettled = append(unsettled, r)
	}
	return unsettled, seen, nil
}

// recoverFromLog 在闸门打开前执行，回放失败时协调者不可用
func (t *TXManager) recoverFromLog(ctx context.Context) error {
	unsettled, seen, err := replayLog(ctx, t.txLog)
	if err != nil {
		return fmt.Errorf("replay tx log: %w", err)
	}
	for _, id := range seen {
		t.ids.skipPast(id)
	}
	if watermark, ok := t.txLog.(TXLogWatermark); ok {
		low, high, err := watermark.Watermark(ctx)
		if err != nil {
			return fmt.Errorf("read tx log watermark: %w", err)
		}
		// 先正后负，与分配器的翻转顺序一致
		t.ids.skipPast(high)
		t.ids.skipPast(low)
	}

	for _, r := range unsettled {
		tx := t.rebuild(ctx, r)
		if _, loaded := t.registry.loadOrStore(tx); loaded {
			continue
		}
		t.settler.noteUnsettled(tx)
	}
	if len(unsettled) > 0 {
		log.Infof("tx log replayed, unsettled txs: %d", len(unsettled))
	}
	return nil
}

func (t *TXManager) rebuild(ctx context.Context, r *recoveredTX) *transaction {
	tx := newTransaction(r.id, r.xid, leaseIDFor(t.id, r.id))
	tx.state = r.intent()
	tx.forever = true
	tx.done = true

	infos, vote := r.joined, Vote("")
	if tx.state == TXCommitting {
		infos, vote = r.prepared, VotePrepared
	}
	ctx = log.WithTXID(ctx, r.id)
	for _, info := range infos {
		handle, err := t.rehydrate(ctx, info)
		if err != nil {
			// 单个参与者恢复失败不影响整体恢复流程
			log.ErrorContextf(ctx, "rehydrate participant failed, participant: %s, err: %v", info.ID, err)
			continue
		}
		tx.participants = append(tx.participants, &txParticipant{info: info, handle: handle, vote: vote})
	}
	return tx
}

func (t *TXManager) rehydrate(ctx context.Context, info ParticipantInfo) (Participant, error) {
	if t.opts.Rehydrator == nil {
		return nil, fmt.Errorf("no participant rehydrator configured")
	}
	handle, err := t.opts.Rehydrator.Rehydrate(ctx, info)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, fmt.Errorf("rehydrator returned nil participant")
	}
	return handle, nil
}
