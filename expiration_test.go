package gotxm

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/xiaoxuxiansheng/gotxm/clock"
)

type expiredRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *expiredRecorder) onExpire(tx *transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, tx.id)
}

func (r *expiredRecorder) expired() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func leasedTX(id int64, state TXState, expiration time.Time) *transaction {
	tx := newTransaction(id, "", uuid.New())
	tx.state = state
	tx.expiration = expiration
	return tx
}

func Test_expirationManager_expireDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "inOrder",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Second, recorder.onExpire)
				first := leasedTX(1, TXActive, start.Add(time.Second))
				second := leasedTX(2, TXPrepared, start.Add(2*time.Second))
				third := leasedTX(3, TXActive, start.Add(3*time.Second))
				m.register(third, third.expiration)
				m.register(first, first.expiration)
				m.register(second, second.expiration)

				m.expireDue()
				assert.Empty(t, recorder.expired())

				clk.Advance(2 * time.Second)
				m.expireDue()
				assert.Equal(t, []int64{1, 2}, recorder.expired())
				assert.Equal(t, 1, m.len())
				assert.True(t, first.done)
				assert.False(t, third.done)
			},
		},
		{
			name: "renewed",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Second, recorder.onExpire)
				tx := leasedTX(1, TXActive, start.Add(time.Second))
				m.register(tx, tx.expiration)

				tx.expiration = start.Add(5 * time.Second)
				m.renewed(tx, tx.expiration)
				// 续约原地调整，不会产生多余的条目
				assert.Equal(t, 1, m.len())

				clk.Advance(2 * time.Second)
				m.expireDue()
				assert.Empty(t, recorder.expired())

				clk.Advance(3 * time.Second)
				m.expireDue()
				assert.Equal(t, []int64{1}, recorder.expired())
				assert.Equal(t, 0, m.len())
			},
		},
		{
			name: "renewedAfterRegister",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Minute, recorder.onExpire)
				tx := leasedTX(1, TXActive, start.Add(time.Second))
				m.register(tx, tx.expiration)
				// 事务的到期时间已经延后，但堆中的条目尚未调整
				tx.expiration = start.Add(4 * time.Second)

				clk.Advance(2 * time.Second)
				m.expireDue()
				assert.Empty(t, recorder.expired())
				assert.Equal(t, 1, m.len())
				assert.Equal(t, 2*time.Second, m.nextWait())

				clk.Advance(2 * time.Second)
				m.expireDue()
				assert.Equal(t, []int64{1}, recorder.expired())
			},
		},
		{
			name: "skipSettling",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Second, recorder.onExpire)
				committing := leasedTX(1, TXCommitting, start.Add(time.Second))
				aborted := leasedTX(2, TXAborted, start.Add(time.Second))
				cancelled := leasedTX(3, TXActive, start.Add(time.Second))
				cancelled.done = true
				for _, tx := range []*transaction{committing, aborted, cancelled} {
					m.register(tx, tx.expiration)
				}

				clk.Advance(time.Minute)
				m.expireDue()
				assert.Empty(t, recorder.expired())
				assert.Equal(t, 0, m.len())
			},
		},
		{
			name: "preparing",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Second, recorder.onExpire)
				tx := leasedTX(1, TXPreparing, start.Add(time.Second))
				m.register(tx, tx.expiration)

				// prepare 过程中到期的事务推迟到下一轮判定
				clk.Advance(2 * time.Second)
				m.expireDue()
				assert.Empty(t, recorder.expired())
				assert.Equal(t, 1, m.len())

				tx.mu.Lock()
				tx.state = TXPrepared
				tx.mu.Unlock()
				clk.Advance(time.Second)
				m.expireDue()
				assert.Equal(t, []int64{1}, recorder.expired())
			},
		},
		{
			name: "unregister",
			f: func(t *testing.T) {
				clk := clock.NewManual(start)
				recorder := &expiredRecorder{}
				m := newExpirationManager(clk, time.Second, recorder.onExpire)
				first := leasedTX(1, TXActive, start.Add(time.Second))
				second := leasedTX(2, TXActive, start.Add(2*time.Second))
				m.register(first, first.expiration)
				m.register(second, second.expiration)

				m.unregister(first)
				m.unregister(first)
				assert.Equal(t, 1, m.len())

				clk.Advance(time.Minute)
				m.expireDue()
				assert.Equal(t, []int64{2}, recorder.expired())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}

func Test_expirationManager_nextWait(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	m := newExpirationManager(clk, time.Second, func(tx *transaction) {})

	// 没有租约时按扫描间隔唤醒
	assert.Equal(t, time.Second, m.nextWait())

	tx := leasedTX(1, TXActive, start.Add(300*time.Millisecond))
	m.register(tx, tx.expiration)
	assert.Equal(t, 300*time.Millisecond, m.nextWait())

	tx.expiration = start.Add(time.Hour)
	m.renewed(tx, tx.expiration)
	assert.Equal(t, time.Second, m.nextWait())

	clk.Advance(2 * time.Hour)
	assert.Equal(t, time.Duration(0), m.nextWait())
}
