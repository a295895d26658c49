package gotxm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/xiaoxuxiansheng/gotxm/clock"
	"github.com/xiaoxuxiansheng/gotxm/log"
)

// settler 推进未决事务的后台任务. 队列先进先出，
// 任务在独立的协程池中执行，不占用线上参与者调用的协程池
type settler struct {
	mu     sync.Mutex
	queue  []*transaction
	queued map[*transaction]struct{}
	wake   chan struct{}
	wg     sync.WaitGroup

	pool       *workerPool
	locker     Locker
	lockExpire time.Duration
	clock      clock.Clock
	tick       time.Duration
	name       string
	resolve    func(ctx context.Context, tx *transaction) error
}

func newSettler(opts *Options, resolve func(ctx context.Context, tx *transaction) error) *settler {
	return &settler{
		queued:     make(map[*transaction]struct{}),
		wake:       make(chan struct{}, 1),
		pool:       newWorkerPool("settler", opts.SettlerPoolSize),
		locker:     opts.Locker,
		lockExpire: opts.LockExpire,
		clock:      opts.Clock,
		tick:       opts.MonitorTick,
		name:       opts.Name,
		resolve:    resolve,
	}
}

// noteUnsettled 入队并唤醒调度协程，重复入队会被忽略
func (s *settler) noteUnsettled(tx *transaction) {
	s.mu.Lock()
	if _, ok := s.queued[tx]; ok {
		s.mu.Unlock()
		return
	}
	s.queued[tx] = struct{}{}
	s.queue = append(s.queue, tx)
	unsettledGauge.Inc()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *settler) pop() *transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	tx := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	delete(s.queued, tx)
	unsettledGauge.Dec()
	return tx
}

// pending 返回仍在队列中的事务 id
func (s *settler) pending() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.queue))
	for _, tx := range s.queue {
		ids = append(ids, tx.id)
	}
	return ids
}

func (s *settler) run(ctx context.Context) {
	defer s.wg.Wait()
	for {
		tx := s.pop()
		if tx == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if err := s.pool.acquire(ctx); err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.pool.release()
			s.settle(ctx, tx)
		}()
	}
}

func (s *settler) settle(ctx context.Context, tx *transaction) {
	if tx.isSettled() {
		return
	}
	ctx = log.WithTXID(ctx, tx.id)

	if s.locker != nil {
		// 加锁，避免多个协调者节点重复推进同一笔事务
		lockKey := settleLockKey(s.name, tx.id)
		if err := s.locker.Lock(ctx, lockKey, s.lockExpire); err != nil {
			// 取锁失败时（大概率被其他节点占有），不对 tick 进行退避升级
			log.WarnContextf(ctx, "settle lock failed, key: %s, err: %v", lockKey, err)
			s.retryLater(ctx, tx, s.tick)
			return
		}
		defer func() {
			if err := s.locker.Unlock(ctx, lockKey); err != nil {
				log.WarnContextf(ctx, "settle unlock failed, key: %s, err: %v", lockKey, err)
			}
		}()
	}

	err := s.resolve(ctx, tx)
	if err == nil {
		tx.retryTick.Store(0)
		return
	}
	// 线上流程正在推进，失败时它会自行入队
	if errors.Is(err, errSettling) {
		return
	}

	tick := tx.retryTick.Load()
	if tick <= 0 {
		tick = s.tick
	}
	tick = s.backOffTick(tick)
	tx.retryTick.Store(tick)
	log.ErrorContextf(ctx, "settle tx failed, retry after: %v, err: %v", tick, err)
	s.retryLater(ctx, tx, tick)
}

func (s *settler) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := s.tick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (s *settler) retryLater(ctx context.Context, tx *transaction, tick time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.clock.After(tick):
			s.noteUnsettled(tx)
		}
	}()
}

// settleLockKey 锁 key 带上协调者名称，不同协调者的同号事务不会互相阻塞
func settleLockKey(name string, txID int64) string {
	return "gotxm:settle:" + name + ":" + cast.ToString(txID)
}
