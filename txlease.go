package gotxm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xiaoxuxiansheng/gotxm/log"
)

// RenewResult 批量续约中单个租约的结果
type RenewResult struct {
	LeaseID uuid.UUID
	Granted time.Duration
	Err     error
}

// Renew 续约，extension 为 0 时使用默认时长. 续约与过期判定在事务锁内互斥完成
func (t *TXManager) Renew(ctx context.Context, leaseID uuid.UUID, extension time.Duration) (time.Duration, error) {
	if err := t.ready.Check(); err != nil {
		return 0, err
	}
	tx, err := t.leaseHolder(leaseID)
	if err != nil {
		return 0, err
	}
	return t.renewTX(tx, extension)
}

// RenewAll 批量续约，单个租约失败不影响其余租约
func (t *TXManager) RenewAll(ctx context.Context, leaseIDs []uuid.UUID, extension time.Duration) ([]RenewResult, error) {
	if err := t.ready.Check(); err != nil {
		return nil, err
	}
	results := make([]RenewResult, 0, len(leaseIDs))
	for _, leaseID := range leaseIDs {
		result := RenewResult{LeaseID: leaseID}
		tx, err := t.leaseHolder(leaseID)
		if err == nil {
			result.Granted, err = t.renewTX(tx, extension)
		}
		result.Err = err
		results = append(results, result)
	}
	return results, nil
}

func (t *TXManager) renewTX(tx *transaction, extension time.Duration) (time.Duration, error) {
	now := t.opts.Clock.Now()
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state.IsTerminal() || tx.leaseLapsedLocked(now) {
		return 0, ErrUnknownLease
	}
	if tx.forever {
		return LeaseForeverDuration, nil
	}

	expiration, granted, err := t.opts.LeasePolicy.Renew(now, LeaseFor(extension))
	if err != nil {
		return 0, err
	}
	// 到期时间只会延后
	if expiration.Before(tx.expiration) {
		expiration, granted = tx.expiration, tx.expiration.Sub(now)
	}
	tx.expiration = expiration
	t.expirations.renewed(tx, expiration)
	return granted, nil
}

// Cancel 取消租约，事务会被回滚
func (t *TXManager) Cancel(ctx context.Context, leaseID uuid.UUID) error {
	if err := t.ready.Check(); err != nil {
		return err
	}
	tx, err := t.leaseHolder(leaseID)
	if err != nil {
		return err
	}
	return t.cancelTX(ctx, tx)
}

// CancelAll 批量取消，返回失败的租约及其原因
func (t *TXManager) CancelAll(ctx context.Context, leaseIDs []uuid.UUID) (map[uuid.UUID]error, error) {
	if err := t.ready.Check(); err != nil {
		return nil, err
	}
	failed := make(map[uuid.UUID]error)
	for _, leaseID := range leaseIDs {
		tx, err := t.leaseHolder(leaseID)
		if err == nil {
			err = t.cancelTX(ctx, tx)
		}
		if err != nil {
			failed[leaseID] = err
		}
	}
	return failed, nil
}

func (t *TXManager) cancelTX(ctx context.Context, tx *transaction) error {
	tx.mu.Lock()
	if tx.state.IsTerminal() || tx.leaseLapsedLocked(t.opts.Clock.Now()) {
		tx.mu.Unlock()
		return ErrUnknownLease
	}
	tx.done = true
	tx.mu.Unlock()

	ctx = log.WithTXID(ctx, tx.id)
	// 已经进入提交流程的事务无法回滚，租约取消本身仍然生效
	if err := t.abortTX(ctx, tx, 0); err != nil && !errors.Is(err, ErrCannotAbort) {
		return err
	}
	return nil
}

func (t *TXManager) leaseHolder(leaseID uuid.UUID) (*transaction, error) {
	txID, ok := txIDFromLease(t.id, leaseID)
	if !ok {
		return nil, ErrUnknownLease
	}
	tx, ok := t.registry.lookupLease(txID)
	if !ok || tx.leaseID != leaseID {
		return nil, ErrUnknownLease
	}
	return tx, nil
}
