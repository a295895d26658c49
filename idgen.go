package gotxm

import (
	"context"
	"math"
	"sync"

	"go.uber.org/atomic"
)

const (
	defaultIDStripes   = 100
	defaultIDBlockSize = 1000
)

type workerKey struct{}

// ContextWithWorker 指定 id 分配时使用的分段，通常传入调用方的 worker 编号
func ContextWithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

func workerFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	worker, ok := ctx.Value(workerKey{}).(int)
	return worker, ok
}

// IDAllocator 分段的事务 id 生成器
// 每个分段持有一个号段，号段耗尽时才会加全局锁从共享种子处申请新的号段.
// 种子从 1 开始向上增长，接近溢出时翻转为 -1 向下增长，负数也耗尽后再回到 1. 不会产生 0
type IDAllocator struct {
	mu         sync.Mutex
	seed       int64
	descending bool
	blockSize  int64

	stripes []idStripe
	next    atomic.Uint32
}

type idStripe struct {
	mu        sync.Mutex
	current   int64
	step      int64
	remaining int64
}

func NewIDAllocator(stripes int, blockSize int64) *IDAllocator {
	if stripes <= 0 {
		stripes = defaultIDStripes
	}
	if blockSize <= 0 {
		blockSize = defaultIDBlockSize
	}
	return &IDAllocator{
		seed:      1,
		blockSize: blockSize,
		stripes:   make([]idStripe, stripes),
	}
}

// Next 根据 ctx 中的 worker 编号选择分段，没有时轮询
func (a *IDAllocator) Next(ctx context.Context) int64 {
	if worker, ok := workerFromContext(ctx); ok {
		return a.NextFor(worker)
	}
	return a.NextFor(int(a.next.Inc() - 1))
}

func (a *IDAllocator) NextFor(worker int) int64 {
	stripe := &a.stripes[uint(worker)%uint(len(a.stripes))]
	stripe.mu.Lock()
	defer stripe.mu.Unlock()
	if stripe.remaining == 0 {
		stripe.current, stripe.step = a.claimBlock()
		stripe.remaining = a.blockSize
	}
	id := stripe.current
	stripe.current += stripe.step
	stripe.remaining--
	return id
}

// claimBlock 申请一个新号段，返回号段起点与步长
func (a *IDAllocator) claimBlock() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.descending && a.seed > math.MaxInt64-a.blockSize {
		a.descending = true
		a.seed = -1
	}
	if a.descending && a.seed < math.MinInt64+a.blockSize {
		a.descending = false
		a.seed = 1
	}

	start, step := a.seed, int64(1)
	if a.descending {
		step = -1
		a.seed -= a.blockSize
	} else {
		a.seed += a.blockSize
	}
	idSeedGauge.WithLabelValues("seed").Set(float64(a.seed))
	return start, step
}

// skipPast 恢复时调用，保证之后分配的 id 不会与日志中已有的 id 冲突
func (a *IDAllocator) skipPast(seen int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case seen > 0:
		if a.descending || seen < a.seed {
			return
		}
		if seen > math.MaxInt64-a.blockSize {
			a.descending, a.seed = true, -1
			return
		}
		a.seed = seen + 1
	case seen < 0:
		if a.descending && seen > a.seed {
			return
		}
		if seen < math.MinInt64+a.blockSize {
			a.descending, a.seed = false, 1
			return
		}
		a.descending, a.seed = true, seen-1
	}
}
