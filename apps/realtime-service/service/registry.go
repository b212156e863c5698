package service

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketplace-realtime/pkg/logger"
	"marketplace-realtime/pkg/redis"
)

// ActiveInstancesKey 实例注册表的有序集合键, 分数为最后心跳时间戳
const ActiveInstancesKey = "realtime:active_instances"

// staleMultiplier 心跳间隔的倍数, 超过即视为失联实例
const staleMultiplier = 3

// InstanceRegistry 实例注册表
// 各实例定期把自己的心跳写入共享有序集合, 统计接口据此汇总活跃实例
type InstanceRegistry struct {
	instanceID string
	rdb        *redis.RedisClient
	interval   time.Duration
	log        logger.Logger
	cancel     context.CancelFunc
}

// NewInstanceRegistry 创建实例注册表
func NewInstanceRegistry(instanceID string, rdb *redis.RedisClient, interval time.Duration, log logger.Logger) *InstanceRegistry {
	return &InstanceRegistry{
		instanceID: instanceID,
		rdb:        rdb,
		interval:   interval,
		log:        log,
	}
}

// Start 写入首次心跳并启动心跳循环
func (r *InstanceRegistry) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.heartbeat(ctx); err != nil {
		cancel()
		return fmt.Errorf("注册实例心跳失败: %v", err)
	}

	go r.heartbeatLoop(ctx)
	return nil
}

// Stop 停止心跳并从注册表摘除本实例
func (r *InstanceRegistry) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	if err := r.rdb.ZRem(ctx, ActiveInstancesKey, r.instanceID); err != nil {
		r.log.Warn(ctx, "从实例注册表摘除失败",
			logger.F("instanceID", r.instanceID),
			logger.F("error", err.Error()))
	}
}

func (r *InstanceRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.log.Warn(ctx, "实例心跳写入失败",
					logger.F("instanceID", r.instanceID),
					logger.F("error", err.Error()))
			}
		}
	}
}

func (r *InstanceRegistry) heartbeat(ctx context.Context) error {
	return r.rdb.ZAdd(ctx, ActiveInstancesKey, &goredis.Z{
		Score:  float64(time.Now().Unix()),
		Member: r.instanceID,
	})
}

// ActiveInstances 返回仍在心跳窗口内的实例ID, 顺便清理失联实例
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-r.interval * staleMultiplier).Unix()

	if err := r.rdb.ZRemRangeByScore(ctx, ActiveInstancesKey, "-inf", fmt.Sprintf("%d", cutoff)); err != nil {
		r.log.Warn(ctx, "清理失联实例失败", logger.F("error", err.Error()))
	}

	return r.rdb.ZRangeByScore(ctx, ActiveInstancesKey, &goredis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	})
}
