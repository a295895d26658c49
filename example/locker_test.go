package example

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/xiaoxuxiansheng/redis_lock"
)

func Test_RedisLocker(t *testing.T) {
	var locked, unlocked []string
	patch := gomonkey.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Lock", func(l *redis_lock.RedisLock, ctx context.Context) error {
		if ctx.Err() != nil {
			return errors.New("lock err")
		}
		locked = append(locked, lockKey(l))
		return nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Unlock", func(l *redis_lock.RedisLock, ctx context.Context) error {
		unlocked = append(unlocked, lockKey(l))
		return nil
	})
	defer patch.Reset()

	locker := NewRedisLocker(&redis_lock.Client{})
	ctx := context.Background()
	assert.Nil(t, locker.Lock(ctx, "gotxm:settle:1", 10*time.Second))
	assert.Nil(t, locker.Unlock(ctx, "gotxm:settle:1"))
	// 不足一秒的过期时间按一秒处理
	assert.Nil(t, locker.Lock(ctx, "gotxm:settle:2", time.Millisecond))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.NotNil(t, locker.Lock(canceled, "gotxm:settle:3", time.Second))

	// key 原样传给 redis_lock，不再叠加前缀
	assert.Equal(t, []string{"gotxm:settle:1", "gotxm:settle:2"}, locked)
	assert.Equal(t, []string{"gotxm:settle:1"}, unlocked)
}

func lockKey(l *redis_lock.RedisLock) string {
	return reflect.ValueOf(l).Elem().FieldByName("key").String()
}
