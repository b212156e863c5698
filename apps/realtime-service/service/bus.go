package service

import (
	"context"

	redisclient "marketplace-realtime/pkg/redis"
)

// RedisBus 基于Redis Pub/Sub的事件总线实现
type RedisBus struct {
	redis *redisclient.RedisClient
}

// NewRedisBus 创建Redis事件总线
func NewRedisBus(redis *redisclient.RedisClient) *RedisBus {
	return &RedisBus{redis: redis}
}

// Publish 发布消息到频道
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.redis.Publish(ctx, channel, payload)
}

// Subscribe 订阅频道并返回消息通道
// 订阅确认失败视为启动失败, 没有共享频道跨实例扇出无法工作
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.redis.Subscribe(ctx, channel)

	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	return out, nil
}
