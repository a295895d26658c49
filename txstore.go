package gotxm

import "context"

// 事务日志记录的类型
type LogKind string

const (
	LogJoined       LogKind = "joined"
	LogDisjoined    LogKind = "disjoined"
	LogVotedPrepare LogKind = "voted_prepare"
	LogAborting     LogKind = "aborting"
	LogCommitted    LogKind = "committed"
	LogAborted      LogKind = "aborted"
)

func (k LogKind) String() string {
	return string(k)
}

// LogRecord 一条事务状态变更记录
type LogRecord struct {
	Kind LogKind `json:"kind"`
	TXID int64   `json:"txID"`
	XID  string  `json:"xid,omitempty"`
	// joined / disjoined 时的参与者
	Participant *ParticipantInfo `json:"participant,omitempty"`
	// voted_prepare 时需要进入第二阶段提交的参与者
	Participants []ParticipantInfo `json:"participants,omitempty"`
}

// 事务日志存储模块，只追加写
type TXLog interface {
	// 追加一条记录，返回 nil 时要求记录已经持久化
	Append(ctx context.Context, record *LogRecord) error
	// 按写入顺序回放全部记录
	Replay(ctx context.Context, fn func(record *LogRecord) error) error
}

// TXLogWatermark 可选实现，返回日志中出现过的最小与最大事务 id，包括已经被 Forget 清理的事务.
// 清理日志的实现需要提供，否则重启后 id 分配会复用已经结束的事务 id
type TXLogWatermark interface {
	Watermark(ctx context.Context) (low, high int64, err error)
}

// TXLogForgetter 可选实现，事务到达终态后清理其日志
type TXLogForgetter interface {
	Forget(ctx context.Context, txID int64) error
}
