package gotxm

import "errors"

var (
	// ErrUnknownTransaction 事务不存在，或者其租约已经失效
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrCannotJoin 事务已经离开 active 状态，不再接受参与者加入
	ErrCannotJoin = errors.New("cannot join transaction")
	// ErrCrashCountMismatch 参与者重启后携带过期的 crash count 重新加入
	ErrCrashCountMismatch = errors.New("participant crash count mismatch")
	// ErrLeaseDenied 租约策略拒绝了本次申请
	ErrLeaseDenied = errors.New("lease denied")
	// ErrUnknownLease 租约不存在或已经过期
	ErrUnknownLease = errors.New("unknown lease")
	// ErrTimeoutExpired 在 waitFor 时间内第二阶段没有完成，后台仍会继续推进
	ErrTimeoutExpired = errors.New("timeout expired")
	// ErrTransactionExists 外部 xid 已经对应一笔存活事务
	ErrTransactionExists = errors.New("transaction already exists")
	ErrCannotCommit      = errors.New("cannot commit transaction")
	ErrCannotAbort       = errors.New("cannot abort transaction")
	ErrNotReady          = errors.New("transaction manager not ready")
	ErrShuttingDown      = errors.New("transaction manager shutting down")
)
