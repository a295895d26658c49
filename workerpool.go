package gotxm

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// workerPool 有界的协程池，线上参与者调用与未决事务推进各用一个
type workerPool struct {
	name string
	sem  *semaphore.Weighted
}

func newWorkerPool(name string, size int64) *workerPool {
	return &workerPool{name: name, sem: semaphore.NewWeighted(size)}
}

func (p *workerPool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	poolBusyGauge.WithLabelValues(p.name).Inc()
	return nil
}

func (p *workerPool) release() {
	poolBusyGauge.WithLabelValues(p.name).Dec()
	p.sem.Release(1)
}

// fanOut 并发对每个参与者执行 fn，每次调用占用池中的一个位置，返回遇到的第一个错误.
// failFast 为 true 时，首个错误会取消其余仍在执行的调用
func (p *workerPool) fanOut(ctx context.Context, participants []*txParticipant, failFast bool,
	fn func(ctx context.Context, idx int, p *txParticipant) error) error {
	var g *errgroup.Group
	gctx := ctx
	if failFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	for i, participant := range participants {
		// shadow
		i, participant := i, participant
		g.Go(func() error {
			if err := p.acquire(gctx); err != nil {
				return err
			}
			defer p.release()
			return fn(gctx, i, participant)
		})
	}
	return g.Wait()
}
