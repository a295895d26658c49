package gotxm

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

const (
	stateInitializing int32 = iota
	stateReady
	stateShuttingDown
)

// ReadyState 协调者的就绪闸门，恢复完成前以及停止之后拒绝所有操作
type ReadyState struct {
	state atomic.Int32
	once  sync.Once
	// ready 或 shutdown 时关闭
	settled chan struct{}
}

func NewReadyState() *ReadyState {
	return &ReadyState{settled: make(chan struct{})}
}

// Check 非阻塞的校验
func (r *ReadyState) Check() error {
	switch r.state.Load() {
	case stateReady:
		return nil
	case stateShuttingDown:
		return ErrShuttingDown
	default:
		return ErrNotReady
	}
}

func (r *ReadyState) IsReady() bool {
	return r.state.Load() == stateReady
}

// Wait 阻塞直到闸门打开、关闭或者 ctx 结束
func (r *ReadyState) Wait(ctx context.Context) error {
	if err := r.Check(); err != ErrNotReady {
		return err
	}
	select {
	case <-r.settled:
		return r.Check()
	case <-ctx.Done():
		return ErrNotReady
	}
}

// Ready 打开闸门，已经关闭的闸门不会再次打开
func (r *ReadyState) Ready() {
	if r.state.CompareAndSwap(stateInitializing, stateReady) {
		r.once.Do(func() { close(r.settled) })
	}
}

// Shutdown 永久关闭闸门
func (r *ReadyState) Shutdown() {
	r.state.Store(stateShuttingDown)
	r.once.Do(func() { close(r.settled) })
}
