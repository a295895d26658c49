package gotxm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/xiaoxuxiansheng/gotxm/log"
)

var (
	// 已有第二阶段流程在执行
	errSettling = errors.New("settlement already in progress")
	// 事务在决策过程中已经到达终态
	errSettled = errors.New("transaction already settled")
)

// 1. 事务 id 分配与租约管理
// 2. 两阶段提交协议的推进
// 3. 崩溃恢复以及未决事务的后台推进
type TXManager struct {
	ctx  context.Context
	stop context.CancelFunc
	opts *Options
	// 协调者实例 id，租约 id 的前缀
	id uuid.UUID

	txLog       TXLog
	registry    *txRegistry
	ids         *IDAllocator
	expirations *expirationManager
	settler     *settler
	tasks       *workerPool
	ready       *ReadyState
	metrics     *txMetrics

	// 最近一次创建或加入的事务，嵌入式调用方加入时的快速路径
	last atomic.Value

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTXManager 回放事务日志后才会打开就绪闸门，回放失败时返回错误
func NewTXManager(txLog TXLog, opts ...Option) (*TXManager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	txManager := TXManager{
		ctx:      ctx,
		stop:     cancel,
		opts:     &Options{},
		id:       uuid.New(),
		txLog:    txLog,
		registry: newTXRegistry(),
		ready:    NewReadyState(),
		metrics:  newTXMetrics(),
	}

	for _, opt := range opts {
		opt(txManager.opts)
	}

	repair(txManager.opts)

	if err := txManager.opts.LeasePolicy.validate(); err != nil {
		cancel()
		return nil, err
	}

	txManager.ids = NewIDAllocator(txManager.opts.IDStripes, txManager.opts.IDBlockSize)
	txManager.tasks = newWorkerPool("task", txManager.opts.TaskPoolSize)
	txManager.expirations = newExpirationManager(txManager.opts.Clock, txManager.opts.SweepInterval, txManager.onLeaseExpired)
	txManager.settler = newSettler(txManager.opts, func(ctx context.Context, tx *transaction) error {
		// 推进未决事务时串行调用参与者，只占用 settler 池中的一个位置
		return txManager.complete(ctx, tx, nil)
	})

	if err := txManager.recoverFromLog(ctx); err != nil {
		cancel()
		log.Errorf("tx manager recover failed, err: %v", err)
		return nil, err
	}

	txManager.goRun(txManager.expirations.run)
	txManager.goRun(txManager.settler.run)
	txManager.ready.Ready()
	return &txManager, nil
}

func (t *TXManager) goRun(fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn(t.ctx)
	}()
}

// Stop 关闭就绪闸门，停止后台任务，并在宽限时间内等待其退出
func (t *TXManager) Stop() {
	t.stopOnce.Do(func() {
		t.ready.Shutdown()
		t.stop()

		done := make(chan struct{})
		go func() {
			t.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(t.opts.StopGrace):
			log.Warnf("tx manager stop grace period elapsed, grace: %v", t.opts.StopGrace)
		}
		log.Infof("tx manager %s stopped, live txs: %d, leases: %d, unsettled txs: %v",
			t.opts.Name, t.registry.len(), t.expirations.len(), t.settler.pending())
	})
}

// ReadyState 返回就绪闸门，外部可以据此做健康检查
func (t *TXManager) ReadyState() *ReadyState {
	return t.ready
}

// Create 创建一笔事务. xid 为空时使用内部生成的 id 作为事务标识
func (t *TXManager) Create(ctx context.Context, xid string, lease LeaseRequest) (*Created, error) {
	if err := t.ready.Check(); err != nil {
		return nil, err
	}

	var expiration time.Time
	if !lease.Forever {
		var err error
		if expiration, _, err = t.opts.LeasePolicy.Grant(t.opts.Clock.Now(), lease); err != nil {
			return nil, err
		}
	}

	id := t.ids.Next(ctx)
	tx := newTransaction(id, xid, leaseIDFor(t.id, id))
	tx.expiration, tx.forever = expiration, lease.Forever
	if err := t.registry.insert(tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionExists, err)
	}
	if !tx.forever {
		t.expirations.register(tx, expiration)
	}
	t.last.Store(tx)

	return &Created{
		ID:  id,
		XID: xid,
		Lease: Lease{
			ID:         tx.leaseID,
			Expiration: expiration,
			Forever:    lease.Forever,
		},
	}, nil
}

// Join 参与者加入事务，同一参与者重复加入时 crash count 必须一致
func (t *TXManager) Join(ctx context.Context, key TXKey, participant Participant, crashCount int64, partitionID *int32, clusterName string) error {
	if err := t.ready.Check(); err != nil {
		return err
	}

	info := ParticipantInfo{
		ID:          participant.ID(),
		CrashCount:  crashCount,
		PartitionID: partitionID,
		ClusterName: clusterName,
	}

	// 快速路径只省去索引查找，失败时退回常规路径重新判定
	if crashCount == EmbeddedCrashCount {
		if tx, ok := t.last.Load().(*transaction); ok && tx.key() == key {
			if err := t.joinTX(ctx, tx, participant, info); err == nil {
				return nil
			}
		}
	}

	tx, ok := t.registry.lookup(key)
	if !ok {
		return ErrUnknownTransaction
	}
	if err := t.joinTX(ctx, tx, participant, info); err != nil {
		return err
	}
	t.last.Store(tx)
	return nil
}

func (t *TXManager) joinTX(ctx context.Context, tx *transaction, participant Participant, info ParticipantInfo) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TXActive {
		return fmt.Errorf("%w: transaction is %s", ErrCannotJoin, tx.state)
	}
	if tx.leaseLapsedLocked(t.opts.Clock.Now()) {
		return ErrUnknownTransaction
	}
	if _, existing := tx.findParticipantLocked(info.ID); existing != nil {
		if existing.info.CrashCount != info.CrashCount {
			return fmt.Errorf("%w: participant: %s, joined with: %d, got: %d", ErrCrashCountMismatch, info.ID, existing.info.CrashCount, info.CrashCount)
		}
		return nil
	}

	// 先落盘再加入，保证 prepare 开始前所有参与者都已持久化
	if err := t.txLog.Append(ctx, &LogRecord{Kind: LogJoined, TXID: tx.id, XID: tx.xid, Participant: &info}); err != nil {
		return fmt.Errorf("%w: append joined record: %v", ErrCannotJoin, err)
	}
	tx.participants = append(tx.participants, &txParticipant{info: info, handle: participant})
	return nil
}

// Disjoin 事务仍处于 active 状态时移除参与者，返回是否移除
func (t *TXManager) Disjoin(ctx context.Context, key TXKey, participant Participant) (bool, error) {
	if err := t.ready.Check(); err != nil {
		return false, err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return false, ErrUnknownTransaction
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TXActive {
		return false, nil
	}
	idx, existing := tx.findParticipantLocked(participant.ID())
	if existing == nil {
		return false, nil
	}
	if err := t.txLog.Append(ctx, &LogRecord{Kind: LogDisjoined, TXID: tx.id, XID: tx.xid, Participant: &existing.info}); err != nil {
		// 缺失 disjoined 记录时恢复流程只会多回滚一个参与者
		log.WarnContextf(log.WithTXID(ctx, tx.id), "append disjoined record failed, participant: %s, err: %v", existing.info.ID, err)
	}
	tx.participants = append(tx.participants[:idx], tx.participants[idx+1:]...)
	return true, nil
}

// GetState 查询事务状态，active 但租约已失效的事务视为不存在
func (t *TXManager) GetState(ctx context.Context, key TXKey) (TXState, error) {
	if err := t.ready.Check(); err != nil {
		return "", err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return "", ErrUnknownTransaction
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TXActive && tx.leaseLapsedLocked(t.opts.Clock.Now()) {
		return "", ErrUnknownTransaction
	}
	return tx.state, nil
}

// Snapshot 返回存活事务的只读视图
func (t *TXManager) Snapshot(ctx context.Context, key TXKey) (TXSnapshot, error) {
	if err := t.ready.Check(); err != nil {
		return TXSnapshot{}, err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return TXSnapshot{}, ErrUnknownTransaction
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.snapshotLocked(), nil
}

// Prepare 第一阶段. timeout 小于等于 0 时使用 Options.Timeout
func (t *TXManager) Prepare(ctx context.Context, key TXKey, timeout time.Duration) (Vote, error) {
	if err := t.ready.Check(); err != nil {
		return "", err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return "", ErrUnknownTransaction
	}

	ctx = log.WithTXID(ctx, tx.id)
	tx.opMu.Lock()
	defer tx.opMu.Unlock()
	return t.prepareTX(ctx, tx, timeout)
}

// prepareTX 调用时需持有 opMu
func (t *TXManager) prepareTX(ctx context.Context, tx *transaction, timeout time.Duration) (Vote, error) {
	tx.mu.Lock()
	switch tx.state {
	case TXActive:
		if tx.leaseLapsedLocked(t.opts.Clock.Now()) {
			tx.mu.Unlock()
			t.abortLapsed(ctx, tx, TXActive)
			return VoteAborted, fmt.Errorf("%w: lease expired", ErrCannotCommit)
		}
	case TXPrepared, TXCommitting, TXCommitted:
		tx.mu.Unlock()
		return VotePrepared, nil
	default:
		tx.mu.Unlock()
		return VoteAborted, nil
	}
	_ = tx.setStateLocked(TXPreparing)
	participants := append([]*txParticipant(nil), tx.participants...)
	tx.mu.Unlock()

	if timeout <= 0 {
		timeout = t.opts.Timeout
	}
	start := time.Now()
	vote, err := t.collectVotes(ctx, tx, participants, timeout)
	t.metrics.recordPrepare(ctx, vote, time.Since(start))
	return vote, err
}

func (t *TXManager) collectVotes(ctx context.Context, tx *transaction, participants []*txParticipant, timeout time.Duration) (Vote, error) {
	if len(participants) == 0 {
		t.markCommitted(ctx, tx)
		return VoteNotChanged, nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 并发执行，只要中间某次出现了拒绝或失败，直接终止其余的 prepare
	votes := make([]Vote, len(participants))
	err := t.tasks.fanOut(pctx, participants, true, func(ctx context.Context, i int, p *txParticipant) error {
		vote, err := p.handle.Prepare(ctx, tx.id)
		if err != nil {
			return fmt.Errorf("participant: %s prepare failed: %w", p.info.ID, err)
		}
		switch vote {
		case VotePrepared, VoteNotChanged:
		case VoteAborted:
			votes[i] = vote
			return fmt.Errorf("participant: %s voted abort", p.info.ID)
		default:
			return fmt.Errorf("participant: %s returned invalid vote: %q", p.info.ID, vote)
		}
		votes[i] = vote
		return nil
	})

	tx.mu.Lock()
	for i, p := range participants {
		p.vote = votes[i]
	}
	prepared := tx.preparedInfosLocked()
	tx.mu.Unlock()

	if err != nil {
		log.WarnContextf(ctx, "tx prepare rejected, err: %v", err)
		t.abortPrepareFailure(ctx, tx)
		return VoteAborted, nil
	}

	if len(prepared) == 0 {
		t.markCommitted(ctx, tx)
		return VoteNotChanged, nil
	}

	// 写入 voted_prepare 之后，恢复时会前滚提交
	if err := t.txLog.Append(ctx, &LogRecord{Kind: LogVotedPrepare, TXID: tx.id, XID: tx.xid, Participants: prepared}); err != nil {
		log.ErrorContextf(ctx, "append voted_prepare record failed, err: %v", err)
		t.abortPrepareFailure(ctx, tx)
		return VoteAborted, fmt.Errorf("%w: append voted_prepare record: %v", ErrCannotCommit, err)
	}

	tx.mu.Lock()
	err = tx.setStateLocked(TXPrepared)
	tx.mu.Unlock()
	if err != nil {
		return VoteAborted, fmt.Errorf("%w: %v", ErrCannotCommit, err)
	}
	return VotePrepared, nil
}

// abortPrepareFailure 投票失败后，返回之前驱动参与者回滚
func (t *TXManager) abortPrepareFailure(ctx context.Context, tx *transaction) {
	if err := t.decideAbort(ctx, tx, false); err != nil {
		log.ErrorContextf(ctx, "decide abort failed, err: %v", err)
		return
	}
	if err := t.complete(ctx, tx, t.tasks); err != nil && !errors.Is(err, errSettling) {
		log.ErrorContextf(ctx, "abort participants failed, hand over to settler, err: %v", err)
		t.settler.noteUnsettled(tx)
	}
}

// markCommitted 没有需要提交的参与者时直接到达终态
func (t *TXManager) markCommitted(ctx context.Context, tx *transaction) {
	tx.mu.Lock()
	for _, p := range tx.participants {
		p.completed = true
	}
	tx.mu.Unlock()
	if err := t.seal(ctx, tx, TXCommitted, true); err != nil {
		log.WarnContextf(ctx, "seal committed tx failed, err: %v", err)
	}
}

// Commit 提交事务，尚未 prepare 的事务会先执行 prepare.
// waitFor 为 0 时，决策落盘后立刻返回，第二阶段交给后台推进；
// waitFor 大于 0 时等待第二阶段完成，超时返回 ErrTimeoutExpired，后台仍会继续推进
func (t *TXManager) Commit(ctx context.Context, key TXKey, waitFor time.Duration) error {
	if err := t.ready.Check(); err != nil {
		return err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return ErrUnknownTransaction
	}

	ctx = log.WithTXID(ctx, tx.id)
	tx.opMu.Lock()
	err := t.decideCommit(ctx, tx)
	tx.opMu.Unlock()
	if errors.Is(err, errSettled) {
		return nil
	}
	if err != nil {
		return err
	}
	return t.awaitSettlement(ctx, tx, waitFor)
}

// decideCommit 调用时需持有 opMu
func (t *TXManager) decideCommit(ctx context.Context, tx *transaction) error {
	tx.mu.Lock()
	state := tx.state
	lapsed := tx.leaseLapsedLocked(t.opts.Clock.Now())
	var onePhase PrepareCommitter
	var single *txParticipant
	if len(tx.participants) == 1 {
		single = tx.participants[0]
		onePhase, _ = single.handle.(PrepareCommitter)
	}
	tx.mu.Unlock()

	switch state {
	case TXCommitting:
		return nil
	case TXAborting:
		return fmt.Errorf("%w: transaction is aborting", ErrCannotCommit)
	case TXActive, TXPrepared:
		if lapsed {
			t.abortLapsed(ctx, tx, state)
			return fmt.Errorf("%w: lease expired", ErrCannotCommit)
		}
	default:
		return fmt.Errorf("%w: transaction is %s", ErrCannotCommit, state)
	}

	if state == TXActive {
		if onePhase != nil {
			return t.commitOnePhase(ctx, tx, single, onePhase)
		}
		vote, err := t.prepareTX(ctx, tx, t.opts.Timeout)
		switch {
		case vote == VoteNotChanged:
			return errSettled
		case vote == VoteAborted && err != nil:
			return err
		case vote == VoteAborted:
			return fmt.Errorf("%w: participants voted abort", ErrCannotCommit)
		}
	}

	tx.mu.Lock()
	err := tx.setStateLocked(TXCommitting)
	tx.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCannotCommit, err)
	}
	return nil
}

// commitOnePhase 只有一个参与者时，一次调用完成 prepare 与 commit
func (t *TXManager) commitOnePhase(ctx context.Context, tx *transaction, p *txParticipant, committer PrepareCommitter) error {
	tx.mu.Lock()
	_ = tx.setStateLocked(TXPreparing)
	tx.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	start := time.Now()
	vote, err := committer.PrepareAndCommit(pctx, tx.id)
	cancel()
	t.metrics.recordPrepare(ctx, vote, time.Since(start))

	if err == nil && (vote == VotePrepared || vote == VoteNotChanged) {
		tx.mu.Lock()
		p.vote, p.completed = vote, true
		tx.mu.Unlock()
		if err := t.seal(ctx, tx, TXCommitted, true); err != nil {
			log.WarnContextf(ctx, "seal one phase commit failed, err: %v", err)
		}
		return errSettled
	}

	if err == nil {
		err = fmt.Errorf("participant: %s voted %s", p.info.ID, vote)
		tx.mu.Lock()
		p.vote = vote
		tx.mu.Unlock()
	}
	log.WarnContextf(ctx, "one phase commit rejected, err: %v", err)
	t.abortPrepareFailure(ctx, tx)
	return fmt.Errorf("%w: %v", ErrCannotCommit, err)
}

// Abort 回滚事务，对租约已被标记为 done 的事务同样生效
func (t *TXManager) Abort(ctx context.Context, key TXKey, waitFor time.Duration) error {
	if err := t.ready.Check(); err != nil {
		return err
	}
	tx, ok := t.registry.lookup(key)
	if !ok {
		return ErrUnknownTransaction
	}
	return t.abortTX(log.WithTXID(ctx, tx.id), tx, waitFor)
}

func (t *TXManager) abortTX(ctx context.Context, tx *transaction, waitFor time.Duration) error {
	tx.opMu.Lock()
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	var err error
	switch state {
	case TXAborting:
	case TXActive, TXPreparing, TXPrepared:
		// prepared 之后必须先落盘回滚决定，否则恢复时会被前滚
		err = t.decideAbort(ctx, tx, state == TXPrepared)
	default:
		err = fmt.Errorf("%w: transaction is %s", ErrCannotAbort, state)
	}
	tx.opMu.Unlock()
	if err != nil {
		return err
	}
	return t.awaitSettlement(ctx, tx, waitFor)
}

// decideAbort 记录回滚决定. durable 为 true 时回滚记录写入失败会返回错误
func (t *TXManager) decideAbort(ctx context.Context, tx *transaction, durable bool) error {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state == TXAborting {
		return nil
	}
	if !state.canMoveTo(TXAborting) {
		return fmt.Errorf("%w: transaction is %s", ErrCannotAbort, state)
	}

	if err := t.txLog.Append(ctx, &LogRecord{Kind: LogAborting, TXID: tx.id, XID: tx.xid}); err != nil {
		if durable {
			return fmt.Errorf("%w: append aborting record: %v", ErrCannotAbort, err)
		}
		log.WarnContextf(ctx, "append aborting record failed, err: %v", err)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	if err := tx.setStateLocked(TXAborting); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotAbort, err)
	}
	return nil
}

// abortLapsed 租约失效的事务无法再提交，调用时需持有 opMu
func (t *TXManager) abortLapsed(ctx context.Context, tx *transaction, state TXState) {
	if err := t.decideAbort(ctx, tx, state == TXPrepared); err != nil {
		log.ErrorContextf(ctx, "abort lapsed tx failed, err: %v", err)
		return
	}
	_ = t.awaitSettlement(ctx, tx, 0)
}

// onLeaseExpired 租约到期后由过期管理触发
func (t *TXManager) onLeaseExpired(tx *transaction) {
	t.metrics.recordExpired(t.ctx)
	t.goRun(func(ctx context.Context) {
		ctx = log.WithTXID(ctx, tx.id)
		log.InfoContextf(ctx, "tx lease expired, aborting")
		if err := t.abortTX(ctx, tx, 0); err != nil && !errors.Is(err, ErrCannotAbort) {
			log.ErrorContextf(ctx, "abort expired tx failed, err: %v", err)
		}
	})
}

// awaitSettlement 推进第二阶段
func (t *TXManager) awaitSettlement(ctx context.Context, tx *transaction, waitFor time.Duration) error {
	if waitFor <= 0 {
		// 决策已经落盘，事务从索引中摘除，由后台完成第二阶段
		t.registry.remove(tx)
		t.settler.noteUnsettled(tx)
		return nil
	}

	t.goRun(func(ctx context.Context) {
		ctx = log.WithTXID(ctx, tx.id)
		if err := t.complete(ctx, tx, t.tasks); err != nil && !errors.Is(err, errSettling) {
			log.ErrorContextf(ctx, "complete tx failed, hand over to settler, err: %v", err)
			t.settler.noteUnsettled(tx)
		}
	})

	timer := time.NewTimer(waitFor)
	defer timer.Stop()
	select {
	case <-tx.settled:
		return nil
	case <-timer.C:
		return ErrTimeoutExpired
	case <-ctx.Done():
		return ErrTimeoutExpired
	}
}

// complete 执行第二阶段，所有参与者完成后写入终态记录.
// pool 为空时串行调用参与者
func (t *TXManager) complete(ctx context.Context, tx *transaction, pool *workerPool) error {
	if !tx.settling.CompareAndSwap(false, true) {
		return errSettling
	}
	defer tx.settling.Store(false)
	if tx.isSettled() {
		return nil
	}

	tx.mu.Lock()
	state := tx.state
	pending := tx.secondPhaseLocked()
	tx.mu.Unlock()

	var call func(ctx context.Context, p *txParticipant) error
	var terminal TXState
	var failure error
	switch state {
	case TXCommitting:
		call = func(ctx context.Context, p *txParticipant) error { return p.handle.Commit(ctx, tx.id) }
		terminal, failure = TXCommitted, ErrCannotCommit
	case TXAborting:
		call = func(ctx context.Context, p *txParticipant) error { return p.handle.Abort(ctx, tx.id) }
		terminal, failure = TXAborted, ErrCannotAbort
	default:
		return fmt.Errorf("cannot settle tx in state %s, tx: %d", state, tx.id)
	}

	start := time.Now()
	run := func(ctx context.Context, _ int, p *txParticipant) error {
		if err := call(ctx, p); err != nil {
			return fmt.Errorf("participant: %s failed: %w", p.info.ID, err)
		}
		tx.mu.Lock()
		p.completed = true
		tx.mu.Unlock()
		return nil
	}

	var err error
	if pool != nil {
		err = pool.fanOut(ctx, pending, false, run)
	} else {
		for i, p := range pending {
			if err = run(ctx, i, p); err != nil {
				break
			}
		}
	}
	if err != nil {
		t.metrics.recordSettle(ctx, state, time.Since(start), "failed")
		return fmt.Errorf("%w: %v", failure, err)
	}

	if err = t.seal(ctx, tx, terminal, false); err != nil {
		t.metrics.recordSettle(ctx, state, time.Since(start), "failed")
		return fmt.Errorf("%w: %v", failure, err)
	}
	t.metrics.recordSettle(ctx, state, time.Since(start), "ok")
	return nil
}

// seal 写入终态记录，事务到达终态并从索引中移除.
// force 为 true 时即便终态记录写入失败也会结束事务，用于没有参与者需要第二阶段的场景
func (t *TXManager) seal(ctx context.Context, tx *transaction, terminal TXState, force bool) error {
	kind := LogCommitted
	if terminal == TXAborted {
		kind = LogAborted
	}
	var appendErr error
	if appendErr = t.txLog.Append(ctx, &LogRecord{Kind: kind, TXID: tx.id, XID: tx.xid}); appendErr != nil {
		appendErr = fmt.Errorf("append %s record: %w", kind, appendErr)
		if !force {
			return appendErr
		}
	} else if forgetter, ok := t.txLog.(TXLogForgetter); ok {
		if err := forgetter.Forget(ctx, tx.id); err != nil {
			log.WarnContextf(ctx, "forget tx log failed, err: %v", err)
		}
	}

	tx.mu.Lock()
	err := tx.setStateLocked(terminal)
	tx.mu.Unlock()
	if err != nil {
		return err
	}
	tx.finish()
	t.registry.remove(tx)
	t.expirations.unregister(tx)
	t.metrics.recordOutcome(ctx, terminal)
	return appendErr
}

// ReenterPrepared 重新引入一笔外部已经 prepare 的事务，租约永不过期，等待调用方提交或回滚
func (t *TXManager) ReenterPrepared(ctx context.Context, xid string, participants []PreparedParticipant) (*Created, error) {
	if err := t.ready.Check(); err != nil {
		return nil, err
	}
	if xid == "" {
		return nil, fmt.Errorf("%w: reentered transaction requires xid", ErrUnknownTransaction)
	}
	if existing, ok := t.registry.lookup(ExternalKey(xid)); ok {
		return reentered(existing)
	}

	id := t.ids.Next(ctx)
	tx := newTransaction(id, xid, leaseIDFor(t.id, id))
	tx.state, tx.forever, tx.reentered = TXPrepared, true, true
	infos := make([]ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		tx.participants = append(tx.participants, &txParticipant{info: p.Info, handle: p.Handle, vote: VotePrepared})
		infos = append(infos, p.Info)
	}

	if err := t.txLog.Append(ctx, &LogRecord{Kind: LogVotedPrepare, TXID: id, XID: xid, Participants: infos}); err != nil {
		return nil, fmt.Errorf("%w: append voted_prepare record: %v", ErrCannotCommit, err)
	}
	if existing, loaded := t.registry.loadOrStore(tx); loaded {
		// 并发重入时落败的一方，终结自己写入的记录，避免恢复时被前滚
		if err := t.txLog.Append(ctx, &LogRecord{Kind: LogAborted, TXID: id, XID: xid}); err != nil {
			log.WarnContextf(ctx, "seal duplicate reentered tx failed, tx: %d, err: %v", id, err)
		}
		return reentered(existing)
	}
	return &Created{ID: id, XID: xid, Lease: Lease{ID: tx.leaseID, Forever: true}}, nil
}

// reentered 同一个 xid 只有此前也是重入的事务才可以复用，客户端创建的事务返回 ErrTransactionExists
func reentered(existing *transaction) (*Created, error) {
	if !existing.reentered {
		return nil, fmt.Errorf("%w: xid: %s", ErrTransactionExists, existing.xid)
	}
	return &Created{ID: existing.id, XID: existing.xid, Lease: Lease{ID: existing.leaseID, Forever: true}}, nil
}

// PreparedParticipant 重新引入外部事务时携带的参与者
type PreparedParticipant struct {
	Handle Participant
	Info   ParticipantInfo
}
