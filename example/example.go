package example

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaoxuxiansheng/gotxm"
	expdao "github.com/xiaoxuxiansheng/gotxm/example/dao"
	"github.com/xiaoxuxiansheng/gotxm/example/pkg"
	"github.com/xiaoxuxiansheng/gotxm/log"
)

// RunDemo 以 mysql 作为事务日志、redis 作为参与者与分布式锁，完整跑一笔两阶段提交
func RunDemo(ctx context.Context, cfg *Config) error {
	log.SetDefaultLogger(log.NewSugarLogger(log.NewOptions(cfg.LogOptions()...)))

	redisClient := pkg.NewRedisClient(cfg.RedisNetwork, cfg.RedisAddress, cfg.RedisPassword)
	mysqlDB, err := pkg.NewDB(cfg.MySQLDSN)
	if err != nil {
		return err
	}
	if err = pkg.MigrateTXLog(mysqlDB, &expdao.TXLogPO{}); err != nil {
		return err
	}

	participantAID := "participantA"
	participantBID := "participantB"

	// 构造出对应的参与者，并注册到注册中心，供恢复流程找回
	registry := NewParticipantRegistry()
	participantA := NewRedisParticipant(participantAID, 1, redisClient, WithNamespace(cfg.Name))
	participantB := NewRedisParticipant(participantBID, 1, redisClient, WithNamespace(cfg.Name))
	if err = registry.Register(participantA); err != nil {
		return err
	}
	if err = registry.Register(participantB); err != nil {
		return err
	}

	// 构造出事务日志存储模块
	txLog := NewSQLTXLog(expdao.NewTXLogDAO(mysqlDB), cfg.Name, cfg.ReplayBatch)

	opts := append(cfg.Options(),
		gotxm.WithRehydrator(registry),
		gotxm.WithLocker(NewRedisLocker(redisClient), cfg.LockExpire),
	)
	txManager, err := gotxm.NewTXManager(txLog, opts...)
	if err != nil {
		return err
	}
	defer txManager.Stop()

	created, err := txManager.Create(ctx, "", gotxm.LeaseFor(time.Minute))
	if err != nil {
		return err
	}
	key := created.Key()

	for _, participant := range []*RedisParticipant{participantA, participantB} {
		if err = txManager.Join(ctx, key, participant, participant.CrashCount(), nil, ""); err != nil {
			return err
		}
		if err = participant.Stage(ctx, created.ID, participant.ID()+"_biz"); err != nil {
			return err
		}
	}

	vote, err := txManager.Prepare(ctx, key, cfg.Timeout)
	if err != nil {
		return err
	}
	if vote != gotxm.VotePrepared {
		return fmt.Errorf("tx %s not prepared, vote: %s", key, vote)
	}

	return txManager.Commit(ctx, key, cfg.Timeout)
}
