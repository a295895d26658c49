package example

import (
	"context"
	"time"

	"github.com/xiaoxuxiansheng/redis_lock"
)

// RedisLocker 基于 redis 分布式锁，供多个协调者节点互斥推进同一笔未决事务.
// key 由协调者构造，这里原样使用
type RedisLocker struct {
	client *redis_lock.Client
}

func NewRedisLocker(client *redis_lock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (r *RedisLocker) Lock(ctx context.Context, key string, expire time.Duration) error {
	seconds := int64(expire.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	lock := redis_lock.NewRedisLock(key, r.client, redis_lock.WithExpireSeconds(seconds))
	return lock.Lock(ctx)
}

// Unlock 锁的归属由 redis_lock 按当前协程识别，须与 Lock 在同一协程调用
func (r *RedisLocker) Unlock(ctx context.Context, key string) error {
	lock := redis_lock.NewRedisLock(key, r.client)
	return lock.Unlock(ctx)
}
