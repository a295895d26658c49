package pkg

import (
	"sync"

	"github.com/spf13/cast"
	"github.com/xiaoxuxiansheng/redis_lock"
)

const (
	network  = "tcp"
	address  = ""
	password = ""
)

var (
	redisClient *redis_lock.Client
	once        sync.Once
)

func NewRedisClient(network, address, password string) *redis_lock.Client {
	return redis_lock.NewClient(network, address, password)
}

func GetRedisClient() *redis_lock.Client {
	once.Do(func() {
		redisClient = redis_lock.NewClient(network, address, password)
	})
	return redisClient
}

// 构造事务 id key，记录参与者侧的事务状态
func BuildTXKey(participantID string, txID int64) string {
	return "txKey:" + participantID + ":" + cast.ToString(txID)
}

// 事务关联的业务 id
func BuildTXDetailKey(participantID string, txID int64) string {
	return "txDetailKey:" + participantID + ":" + cast.ToString(txID)
}

// 构造业务数据 key，用于记录数据状态
func BuildDataKey(participantID string, txID int64, bizID string) string {
	return "txKey:" + participantID + ":" + cast.ToString(txID) + ":" + bizID
}

// 构造事务锁 key
func BuildTXLockKey(participantID string, txID int64) string {
	return "txLockKey:" + participantID + ":" + cast.ToString(txID)
}
