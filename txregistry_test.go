package gotxm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_txRegistry(t *testing.T) {
	registry := newTXRegistry()
	owner := uuid.New()

	internal := newTransaction(1, "", leaseIDFor(owner, 1))
	external := newTransaction(2, "order-2", leaseIDFor(owner, 2))
	assert.Nil(t, registry.insert(internal))
	assert.Nil(t, registry.insert(external))
	assert.NotNil(t, registry.insert(newTransaction(3, "order-2", leaseIDFor(owner, 3))))
	assert.Equal(t, 2, registry.len())

	got, ok := registry.lookup(InternalKey(1))
	assert.True(t, ok)
	assert.Same(t, internal, got)
	got, ok = registry.lookup(ExternalKey("order-2"))
	assert.True(t, ok)
	assert.Same(t, external, got)
	// 外部事务也可以通过内部 id 找到
	got, ok = registry.lookup(InternalKey(2))
	assert.True(t, ok)
	assert.Same(t, external, got)
	got, ok = registry.lookupLease(2)
	assert.True(t, ok)
	assert.Same(t, external, got)

	// 已存在时返回已有的记录
	existing, loaded := registry.loadOrStore(newTransaction(1, "", leaseIDFor(owner, 1)))
	assert.True(t, loaded)
	assert.Same(t, internal, existing)

	// 只删除同一条记录
	registry.remove(newTransaction(2, "order-2", leaseIDFor(owner, 2)))
	assert.Equal(t, 2, registry.len())
	registry.remove(external)
	registry.remove(external)
	_, ok = registry.lookup(InternalKey(2))
	assert.False(t, ok)
	_, ok = registry.lookup(ExternalKey("order-2"))
	assert.False(t, ok)

	assert.Equal(t, 1, registry.len())
	got, ok = registry.lookup(InternalKey(1))
	assert.True(t, ok)
	assert.Same(t, internal, got)
}
