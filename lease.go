package gotxm

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// LeaseForeverDuration 续约一个永不过期的租约时返回的时长
const LeaseForeverDuration = time.Duration(math.MaxInt64)

// LeaseRequest 申请或续约租约时的参数
type LeaseRequest struct {
	// 为 0 时使用策略的默认时长
	Duration time.Duration
	// 永不过期，不会注册到过期管理中
	Forever bool
}

var (
	LeaseAny     = LeaseRequest{}
	LeaseForever = LeaseRequest{Forever: true}
)

func LeaseFor(d time.Duration) LeaseRequest {
	return LeaseRequest{Duration: d}
}

// LeasePolicy 根据配置的上下限计算租约的到期时间
type LeasePolicy struct {
	Min     time.Duration
	Default time.Duration
	Max     time.Duration
}

func DefaultLeasePolicy() LeasePolicy {
	return LeasePolicy{
		Min:     time.Millisecond,
		Default: time.Hour,
		Max:     3 * time.Hour,
	}
}

func (p LeasePolicy) validate() error {
	if p.Min < 0 || p.Max <= 0 || p.Min > p.Max || p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("%w: invalid policy min: %v, default: %v, max: %v", ErrLeaseDenied, p.Min, p.Default, p.Max)
	}
	return nil
}

// Grant 计算新租约的到期时间及实际授予的时长
func (p LeasePolicy) Grant(now time.Time, req LeaseRequest) (time.Time, time.Duration, error) {
	if err := p.validate(); err != nil {
		return time.Time{}, 0, err
	}
	if req.Forever {
		return time.Time{}, 0, fmt.Errorf("%w: forever lease has no expiration", ErrLeaseDenied)
	}
	d, err := p.clamp(req.Duration)
	if err != nil {
		return time.Time{}, 0, err
	}
	return now.Add(d), d, nil
}

// Renew 计算续约后的到期时间，永不过期的申请按上限处理
func (p LeasePolicy) Renew(now time.Time, req LeaseRequest) (time.Time, time.Duration, error) {
	if err := p.validate(); err != nil {
		return time.Time{}, 0, err
	}
	if req.Forever {
		return now.Add(p.Max), p.Max, nil
	}
	d, err := p.clamp(req.Duration)
	if err != nil {
		return time.Time{}, 0, err
	}
	return now.Add(d), d, nil
}

func (p LeasePolicy) clamp(d time.Duration) (time.Duration, error) {
	switch {
	case d < 0:
		return 0, fmt.Errorf("%w: negative duration %v", ErrLeaseDenied, d)
	case d == 0:
		return p.Default, nil
	case d > p.Max:
		return p.Max, nil
	case d < p.Min:
		return p.Min, nil
	}
	return d, nil
}

// leaseIDFor 租约 id 的前 8 字节取自协调者实例 id，后 8 字节为事务 id
func leaseIDFor(owner uuid.UUID, txID int64) uuid.UUID {
	var id uuid.UUID
	copy(id[:8], owner[:8])
	binary.BigEndian.PutUint64(id[8:], uint64(txID))
	return id
}

// txIDFromLease 校验租约属于当前协调者实例，并解析出事务 id
func txIDFromLease(owner uuid.UUID, lease uuid.UUID) (int64, bool) {
	for i := 0; i < 8; i++ {
		if owner[i] != lease[i] {
			return 0, false
		}
	}
	txID := int64(binary.BigEndian.Uint64(lease[8:]))
	return txID, txID != 0
}
