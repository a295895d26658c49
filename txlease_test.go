package gotxm

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/xiaoxuxiansheng/gotxm/clock"
)

func Test_TXManager_Renew(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "extend",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				txManager := newTestManager(t, NewMemoryTXLog(), WithClock(clk))
				created, err := txManager.Create(ctx, "", LeaseFor(time.Second))
				assert.Nil(t, err)
				assert.Equal(t, start.Add(time.Second), created.Lease.Expiration)

				clk.Advance(500 * time.Millisecond)
				granted, err := txManager.Renew(ctx, created.Lease.ID, time.Second)
				assert.Nil(t, err)
				assert.Equal(t, time.Second, granted)

				// 较短的续约不会提前到期时间
				granted, err = txManager.Renew(ctx, created.Lease.ID, 100*time.Millisecond)
				assert.Nil(t, err)
				assert.Equal(t, time.Second, granted)

				clk.Advance(700 * time.Millisecond)
				state, err := txManager.GetState(ctx, created.Key())
				assert.Nil(t, err)
				assert.Equal(t, TXActive, state)

				snapshot, err := txManager.Snapshot(ctx, created.Key())
				assert.Nil(t, err)
				assert.Equal(t, start.Add(1500*time.Millisecond), snapshot.Expiration)
			},
		},
		{
			name: "expired",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				txManager := newTestManager(t, NewMemoryTXLog(), WithClock(clk))
				a := newMockParticipant("a")
				created, err := txManager.Create(ctx, "", LeaseFor(time.Second))
				assert.Nil(t, err)
				assert.Nil(t, txManager.Join(ctx, created.Key(), a, 1, nil, ""))

				// 过期协程可能还未注册等待，每次检查前推进时间
				assert.Eventually(t, func() bool {
					clk.Advance(time.Second)
					_, _, aborts := a.counts()
					return aborts == 1
				}, 2*time.Second, 5*time.Millisecond)

				_, err = txManager.Renew(ctx, created.Lease.ID, time.Second)
				assert.ErrorIs(t, err, ErrUnknownLease)
				_, err = txManager.GetState(ctx, created.Key())
				assert.ErrorIs(t, err, ErrUnknownTransaction)
			},
		},
		{
			name: "lapsedBeforeSweep",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				txManager := newTestManager(t, NewMemoryTXLog(), WithClock(clk))
				created, err := txManager.Create(ctx, "", LeaseFor(time.Second))
				assert.Nil(t, err)
				// 停止跟踪租约，模拟过期扫描尚未执行
				tx, ok := txManager.registry.lookup(created.Key())
				assert.True(t, ok)
				txManager.expirations.unregister(tx)

				clk.Advance(2 * time.Second)
				_, err = txManager.GetState(ctx, created.Key())
				assert.ErrorIs(t, err, ErrUnknownTransaction)
				assert.ErrorIs(t, txManager.Join(ctx, created.Key(), newMockParticipant("a"), 1, nil, ""), ErrUnknownTransaction)
				_, err = txManager.Renew(ctx, created.Lease.ID, 0)
				assert.ErrorIs(t, err, ErrUnknownLease)

				assert.ErrorIs(t, txManager.Commit(ctx, created.Key(), 0), ErrCannotCommit)
				// 租约失效的事务被回滚并摘除
				assert.ErrorIs(t, txManager.Commit(ctx, created.Key(), 0), ErrUnknownTransaction)
			},
		},
		{
			name: "forever",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				txManager := newTestManager(t, NewMemoryTXLog(), WithClock(clk))
				created, err := txManager.Create(ctx, "", LeaseForever)
				assert.Nil(t, err)
				assert.True(t, created.Lease.Forever)

				clk.Advance(24 * time.Hour)
				granted, err := txManager.Renew(ctx, created.Lease.ID, time.Second)
				assert.Nil(t, err)
				assert.Equal(t, LeaseForeverDuration, granted)
				state, err := txManager.GetState(ctx, created.Key())
				assert.Nil(t, err)
				assert.Equal(t, TXActive, state)
			},
		},
		{
			name: "unknownLease",
			f: func(t *testing.T) {
				txManager := newTestManager(t, NewMemoryTXLog())
				_, err := txManager.Renew(ctx, uuid.New(), time.Second)
				assert.ErrorIs(t, err, ErrUnknownLease)

				created, err := txManager.Create(ctx, "", LeaseAny)
				assert.Nil(t, err)
				// 同一个协调者但事务 id 不存在
				_, err = txManager.Renew(ctx, leaseIDFor(txManager.id, created.ID+1000), time.Second)
				assert.ErrorIs(t, err, ErrUnknownLease)
				_, err = txManager.Renew(ctx, created.Lease.ID, -time.Second)
				assert.ErrorIs(t, err, ErrLeaseDenied)
			},
		},
		{
			name: "renewAll",
			f: func(t *testing.T) {
				txManager := newTestManager(t, NewMemoryTXLog())
				first, err := txManager.Create(ctx, "", LeaseAny)
				assert.Nil(t, err)
				second, err := txManager.Create(ctx, "order-2", LeaseForever)
				assert.Nil(t, err)
				unknown := uuid.New()

				results, err := txManager.RenewAll(ctx, []uuid.UUID{first.Lease.ID, unknown, second.Lease.ID}, time.Minute)
				assert.Nil(t, err)
				assert.Len(t, results, 3)
				assert.Nil(t, results[0].Err)
				assert.Equal(t, time.Minute, results[0].Granted)
				assert.Equal(t, unknown, results[1].LeaseID)
				assert.ErrorIs(t, results[1].Err, ErrUnknownLease)
				assert.Equal(t, LeaseForeverDuration, results[2].Granted)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}

func Test_TXManager_Cancel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "cancel",
			f: func(t *testing.T) {
				txManager := newTestManager(t, NewMemoryTXLog())
				a := newMockParticipant("a")
				created := createAndJoin(t, txManager, "", a)

				assert.Nil(t, txManager.Cancel(ctx, created.Lease.ID))
				assert.Eventually(t, func() bool {
					_, _, aborts := a.counts()
					return aborts == 1
				}, time.Second, 5*time.Millisecond)
				assert.ErrorIs(t, txManager.Cancel(ctx, created.Lease.ID), ErrUnknownLease)
				_, err := txManager.Renew(ctx, created.Lease.ID, time.Second)
				assert.ErrorIs(t, err, ErrUnknownLease)
			},
		},
		{
			name: "cancelPrepared",
			f: func(t *testing.T) {
				txManager := newTestManager(t, NewMemoryTXLog())
				a := newMockParticipant("a")
				created := createAndJoin(t, txManager, "order-9", a)
				_, err := txManager.Prepare(ctx, created.Key(), 0)
				assert.Nil(t, err)

				assert.Nil(t, txManager.Cancel(ctx, created.Lease.ID))
				assert.Eventually(t, func() bool {
					return len(a.abortedIDs()) == 1
				}, time.Second, 5*time.Millisecond)
				assert.Equal(t, []int64{created.ID}, a.abortedIDs())
			},
		},
		{
			name: "cancelAll",
			f: func(t *testing.T) {
				txManager := newTestManager(t, NewMemoryTXLog())
				a, b := newMockParticipant("a"), newMockParticipant("b")
				first := createAndJoin(t, txManager, "", a)
				second := createAndJoin(t, txManager, "", b)
				unknown := uuid.New()

				failed, err := txManager.CancelAll(ctx, []uuid.UUID{first.Lease.ID, unknown, second.Lease.ID})
				assert.Nil(t, err)
				assert.Len(t, failed, 1)
				assert.ErrorIs(t, failed[unknown], ErrUnknownLease)
				assert.Eventually(t, func() bool {
					return len(a.abortedIDs()) == 1 && len(b.abortedIDs()) == 1
				}, time.Second, 5*time.Millisecond)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}
