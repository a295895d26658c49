package gotxm

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/xiaoxuxiansheng/gotxm/clock"
)

type expirationEntry struct {
	tx    *transaction
	at    time.Time
	index int
}

// expirationQueue 按到期时间排序的小顶堆
type expirationQueue []*expirationEntry

func (q expirationQueue) Len() int { return len(q) }

func (q expirationQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q expirationQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expirationQueue) Push(x interface{}) {
	entry := x.(*expirationEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *expirationQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}

// expirationManager 跟踪存活事务的租约，租约到期且未续约时触发回滚.
// 每笔事务在堆中至多一个条目，续约时原地调整
type expirationManager struct {
	mu      sync.Mutex
	queue   expirationQueue
	entries map[*transaction]*expirationEntry
	wake    chan struct{}

	clock    clock.Clock
	sweep    time.Duration
	onExpire func(tx *transaction)
}

func newExpirationManager(clk clock.Clock, sweep time.Duration, onExpire func(tx *transaction)) *expirationManager {
	return &expirationManager{
		entries:  make(map[*transaction]*expirationEntry),
		wake:     make(chan struct{}, 1),
		clock:    clk,
		sweep:    sweep,
		onExpire: onExpire,
	}
}

func (m *expirationManager) register(tx *transaction, at time.Time) {
	m.mu.Lock()
	entry, ok := m.entries[tx]
	if ok {
		entry.at = at
		heap.Fix(&m.queue, entry.index)
	} else {
		entry = &expirationEntry{tx: tx, at: at}
		m.entries[tx] = entry
		heap.Push(&m.queue, entry)
	}
	earliest := m.queue[0] == entry
	m.mu.Unlock()

	if earliest {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

func (m *expirationManager) renewed(tx *transaction, at time.Time) {
	m.register(tx, at)
}

// unregister 事务到达终态后停止跟踪
func (m *expirationManager) unregister(tx *transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[tx]
	if !ok {
		return
	}
	delete(m.entries, tx)
	if entry.index >= 0 && entry.index < len(m.queue) && m.queue[entry.index] == entry {
		heap.Remove(&m.queue, entry.index)
	}
}

func (m *expirationManager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *expirationManager) run(ctx context.Context) {
	for {
		m.expireDue()
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-m.clock.After(m.nextWait()):
		}
	}
}

func (m *expirationManager) nextWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return m.sweep
	}
	wait := m.queue[0].at.Sub(m.clock.Now())
	if wait < 0 {
		return 0
	}
	if wait > m.sweep {
		return m.sweep
	}
	return wait
}

func (m *expirationManager) expireDue() {
	now := m.clock.Now()
	requeue := make(map[*transaction]time.Time)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].at.After(now) {
			m.mu.Unlock()
			break
		}
		entry := heap.Pop(&m.queue).(*expirationEntry)
		delete(m.entries, entry.tx)
		m.mu.Unlock()

		switch result, at := markExpired(entry.tx, now); result {
		case leaseExpired:
			m.onExpire(entry.tx)
		case leaseRenewed:
			requeue[entry.tx] = at
		case leaseBusy:
			// prepare 过程中到期的事务，下一轮扫描再判定
			requeue[entry.tx] = now.Add(m.sweep)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for tx, at := range requeue {
		// 期间已经续约的事务以续约写入的条目为准
		if _, ok := m.entries[tx]; ok {
			continue
		}
		entry := &expirationEntry{tx: tx, at: at}
		m.entries[tx] = entry
		heap.Push(&m.queue, entry)
	}
}

type expireResult int

const (
	leaseGone expireResult = iota
	leaseExpired
	leaseRenewed
	leaseBusy
)

// markExpired 在事务锁内把租约标记为 done，与续约互斥
func markExpired(tx *transaction, now time.Time) (expireResult, time.Time) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done || tx.forever || tx.state.IsTerminal() {
		return leaseGone, time.Time{}
	}
	if now.Before(tx.expiration) {
		return leaseRenewed, tx.expiration
	}
	switch tx.state {
	case TXActive, TXPrepared:
		tx.done = true
		return leaseExpired, time.Time{}
	case TXPreparing:
		return leaseBusy, time.Time{}
	}
	// committing / aborting 已经在推进第二阶段
	return leaseGone, time.Time{}
}
