package example

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaoxuxiansheng/gotxm"
	expdao "github.com/xiaoxuxiansheng/gotxm/example/dao"
)

const defaultReplayBatch = 500

// TXLogDAO 事务日志表的读写接口
type TXLogDAO interface {
	ListTXLogs(ctx context.Context, owner string, afterID uint, limit int) ([]*expdao.TXLogPO, error)
	GetTXIDRange(ctx context.Context, owner string) (int64, int64, error)
	CreateTXLog(ctx context.Context, record *expdao.TXLogPO) (uint, error)
	DeleteTXLogs(ctx context.Context, owner string, txID int64) error
}

// txLogPayload 日志记录中除类型与事务标识以外的内容
type txLogPayload struct {
	Participant  *gotxm.ParticipantInfo `json:"participant,omitempty"`
	Participants []gotxm.ParticipantInfo `json:"participants,omitempty"`
}

// SQLTXLog 基于 mysql 的事务日志. 多个协调者可以共用一张表，
// 每个协调者只读写 owner 为自己名称的记录，名称需要与 gotxm.WithName 一致且各不相同
type SQLTXLog struct {
	dao   TXLogDAO
	owner string
	batch int
}

func NewSQLTXLog(dao TXLogDAO, owner string, batch int) *SQLTXLog {
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	return &SQLTXLog{
		dao:   dao,
		owner: owner,
		batch: batch,
	}
}

func (s *SQLTXLog) Append(ctx context.Context, record *gotxm.LogRecord) error {
	body, err := json.Marshal(txLogPayload{
		Participant:  record.Participant,
		Participants: record.Participants,
	})
	if err != nil {
		return err
	}
	_, err = s.dao.CreateTXLog(ctx, &expdao.TXLogPO{
		Owner:   s.owner,
		TXID:    record.TXID,
		XID:     record.XID,
		Kind:    record.Kind.String(),
		Payload: string(body),
	})
	return err
}

// Replay 按自增 id 分批读取，保证与写入顺序一致
func (s *SQLTXLog) Replay(ctx context.Context, fn func(record *gotxm.LogRecord) error) error {
	var lastID uint
	for {
		records, err := s.dao.ListTXLogs(ctx, s.owner, lastID, s.batch)
		if err != nil {
			return err
		}
		for _, po := range records {
			record, err := decodeTXLog(po)
			if err != nil {
				return err
			}
			if err = fn(record); err != nil {
				return err
			}
			lastID = po.ID
		}
		if len(records) < s.batch {
			return nil
		}
	}
}

// Forget 软删除，记录仍然参与 Watermark 的计算
func (s *SQLTXLog) Forget(ctx context.Context, txID int64) error {
	return s.dao.DeleteTXLogs(ctx, s.owner, txID)
}

func (s *SQLTXLog) Watermark(ctx context.Context) (int64, int64, error) {
	return s.dao.GetTXIDRange(ctx, s.owner)
}

func decodeTXLog(po *expdao.TXLogPO) (*gotxm.LogRecord, error) {
	var payload txLogPayload
	if po.Payload != "" {
		if err := json.Unmarshal([]byte(po.Payload), &payload); err != nil {
			return nil, fmt.Errorf("corrupt tx log, id: %d, err: %w", po.ID, err)
		}
	}
	return &gotxm.LogRecord{
		Kind:         gotxm.LogKind(po.Kind),
		TXID:         po.TXID,
		XID:          po.XID,
		Participant:  payload.Participant,
		Participants: payload.Participants,
	}, nil
}
