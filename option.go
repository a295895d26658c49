package gotxm

import (
	"time"

	"github.com/xiaoxuxiansheng/gotxm/clock"
)

type Options struct {
	// 协调者名称，多个协调者共享日志或锁服务时须各不相同
	Name string
	// prepare 未指定超时时间时使用的默认值
	Timeout time.Duration
	// 后台推进未决事务的基础间隔，失败时按退避策略增大，最多 8 倍
	MonitorTick time.Duration
	// 租约过期扫描的最长间隔
	SweepInterval time.Duration
	// 租约策略
	LeasePolicy LeasePolicy
	// 处理线上参与者调用的协程池大小
	TaskPoolSize int64
	// 推进未决事务的协程池大小，与 TaskPoolSize 相互独立
	SettlerPoolSize int64
	// id 分配器的分段数与每次申请的号段长度
	IDStripes   int
	IDBlockSize int64
	// 停止时等待后台协程退出的时长
	StopGrace time.Duration
	// 分布式锁的过期时长
	LockExpire time.Duration

	Clock      clock.Clock
	Rehydrator ParticipantRehydrator
	Locker     Locker
}

type Option func(*Options)

const defaultName = "default"

func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

func WithTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithSweepInterval(interval time.Duration) Option {
	if interval <= 0 {
		interval = time.Second
	}

	return func(o *Options) {
		o.SweepInterval = interval
	}
}

func WithLeasePolicy(policy LeasePolicy) Option {
	return func(o *Options) {
		o.LeasePolicy = policy
	}
}

func WithPoolSize(taskPool, settlerPool int64) Option {
	return func(o *Options) {
		o.TaskPoolSize = taskPool
		o.SettlerPoolSize = settlerPool
	}
}

func WithIDAllocation(stripes int, blockSize int64) Option {
	return func(o *Options) {
		o.IDStripes = stripes
		o.IDBlockSize = blockSize
	}
}

func WithStopGrace(grace time.Duration) Option {
	return func(o *Options) {
		o.StopGrace = grace
	}
}

func WithClock(clk clock.Clock) Option {
	return func(o *Options) {
		o.Clock = clk
	}
}

func WithRehydrator(rehydrator ParticipantRehydrator) Option {
	return func(o *Options) {
		o.Rehydrator = rehydrator
	}
}

// WithLocker 多个协调者节点共享同一份日志时，推进未决事务前需要加锁
func WithLocker(locker Locker, expire time.Duration) Option {
	return func(o *Options) {
		o.Locker = locker
		o.LockExpire = expire
	}
}

func repair(o *Options) {
	if o.Name == "" {
		o.Name = defaultName
	}

	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}

	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}

	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}

	if o.LeasePolicy == (LeasePolicy{}) {
		o.LeasePolicy = DefaultLeasePolicy()
	}

	if o.TaskPoolSize <= 0 {
		o.TaskPoolSize = 50
	}

	if o.SettlerPoolSize <= 0 {
		o.SettlerPoolSize = 150
	}

	if o.IDStripes <= 0 {
		o.IDStripes = defaultIDStripes
	}

	if o.IDBlockSize <= 0 {
		o.IDBlockSize = defaultIDBlockSize
	}

	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}

	if o.LockExpire <= 0 {
		o.LockExpire = o.MonitorTick
	}

	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}
