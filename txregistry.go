package gotxm

import (
	"fmt"
	"sync"
)

// txRegistry 存活事务的索引，事务只有在这里才算存在
type txRegistry struct {
	mux   sync.RWMutex
	byID  map[int64]*transaction
	byXID map[string]*transaction
	// 外部事务的内部 id 到 xid 的映射，参与者可能只知道内部 id
	idToXID map[int64]string
}

func newTXRegistry() *txRegistry {
	return &txRegistry{
		byID:    make(map[int64]*transaction),
		byXID:   make(map[string]*transaction),
		idToXID: make(map[int64]string),
	}
}

func (r *txRegistry) insert(tx *transaction) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.getLocked(tx.key()); ok {
		return fmt.Errorf("repeat transaction key: %s", tx.key())
	}
	r.putLocked(tx)
	return nil
}

// loadOrStore 已存在时返回已有的记录，恢复流程用它与线上流量合并
func (r *txRegistry) loadOrStore(tx *transaction) (*transaction, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if existing, ok := r.getLocked(tx.key()); ok {
		return existing, true
	}
	r.putLocked(tx)
	return tx, false
}

func (r *txRegistry) lookup(key TXKey) (*transaction, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if key.IsExternal() {
		return r.getLocked(key)
	}
	return r.lookupIDLocked(key.ID())
}

// lookupLease 根据租约中的事务 id 查找，外部事务通过二级索引解析
func (r *txRegistry) lookupLease(txID int64) (*transaction, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.lookupIDLocked(txID)
}

// remove 幂等，只有索引中仍是同一条记录时才删除
func (r *txRegistry) remove(tx *transaction) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if existing, ok := r.getLocked(tx.key()); !ok || existing != tx {
		return
	}
	if tx.xid != "" {
		delete(r.byXID, tx.xid)
		delete(r.idToXID, tx.id)
		liveTXGauge.WithLabelValues("external").Dec()
		return
	}
	delete(r.byID, tx.id)
	liveTXGauge.WithLabelValues("internal").Dec()
}

func (r *txRegistry) len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.byID) + len(r.byXID)
}

func (r *txRegistry) getLocked(key TXKey) (*transaction, bool) {
	if key.IsExternal() {
		tx, ok := r.byXID[key.XID()]
		return tx, ok
	}
	tx, ok := r.byID[key.ID()]
	return tx, ok
}

func (r *txRegistry) lookupIDLocked(txID int64) (*transaction, bool) {
	if tx, ok := r.byID[txID]; ok {
		return tx, true
	}
	xid, ok := r.idToXID[txID]
	if !ok {
		return nil, false
	}
	tx, ok := r.byXID[xid]
	return tx, ok
}

func (r *txRegistry) putLocked(tx *transaction) {
	if tx.xid != "" {
		r.byXID[tx.xid] = tx
		r.idToXID[tx.id] = tx.xid
		liveTXGauge.WithLabelValues("external").Inc()
		return
	}
	r.byID[tx.id] = tx
	liveTXGauge.WithLabelValues("internal").Inc()
}
