package service

import "context"

// PresenceStore 共享在线状态存取接口
// 生产环境由Redis实现, 测试使用内存实现
type PresenceStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	HSet(ctx context.Context, key, field string, value interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// EventBus 跨实例事件总线
// 单个共享频道承载所有房间广播, 缺失时系统退化为单实例语义
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MessageProducer 消息归档生产者
type MessageProducer interface {
	PublishMessage(topic, key string, value interface{}) error
}
