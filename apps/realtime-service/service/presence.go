package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/logger"
)

// Redis键：在线用户集合与连接归属映射, 所有实例共享
const (
	OnlineUsersKey     = "online_users"
	ConnectionUsersKey = "connection_users"
)

// PresenceTracker 在线状态跟踪器
// 多设备感知：用户在任一实例存在至少一条连接即视为在线,
// 最后一条连接断开才广播下线通知
type PresenceTracker struct {
	store  PresenceStore
	broker *Broker
	log    logger.Logger
}

// NewPresenceTracker 创建在线状态跟踪器
func NewPresenceTracker(store PresenceStore, broker *Broker, log logger.Logger) *PresenceTracker {
	return &PresenceTracker{
		store:  store,
		broker: broker,
		log:    log,
	}
}

// MarkOnline 标记连接上线
// 存储失败返回错误由调用方处置；广播失败只记日志, 在线状态以存储为准。
// 同一用户的重复上线仍会再次广播, 订阅方需要幂等处理
func (t *PresenceTracker) MarkOnline(ctx context.Context, userID, connID string) error {
	// 1. 写入共享在线集合
	if err := t.store.SAdd(ctx, OnlineUsersKey, userID); err != nil {
		return fmt.Errorf("写入在线用户集合失败: %v", err)
	}

	// 2. 登记连接归属
	if err := t.store.HSet(ctx, ConnectionUsersKey, connID, userID); err != nil {
		return fmt.Errorf("登记连接归属失败: %v", err)
	}

	// 3. 广播上线通知
	if err := t.broker.BroadcastToAll(ctx, model.EventUserOnline, model.PresenceEvent{
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		t.log.Warn(ctx, "广播上线通知失败",
			logger.F("userID", userID),
			logger.F("error", err.Error()))
	}

	return nil
}

// MarkOffline 按连接标记下线
// 未知连接视为已处理过, 直接返回。用户还有存活连接时只摘除映射不广播
func (t *PresenceTracker) MarkOffline(ctx context.Context, connID string) error {
	// 1. 找到连接归属的用户
	userID, err := t.store.HGet(ctx, ConnectionUsersKey, connID)
	if err != nil {
		return fmt.Errorf("查询连接归属失败: %v", err)
	}
	if userID == "" {
		return nil
	}

	// 2. 摘除连接映射
	if err := t.store.HDel(ctx, ConnectionUsersKey, connID); err != nil {
		return fmt.Errorf("摘除连接映射失败: %v", err)
	}

	// 3. 判断是否还有其他存活连接
	all, err := t.store.HGetAll(ctx, ConnectionUsersKey)
	if err != nil {
		return fmt.Errorf("扫描连接映射失败: %v", err)
	}
	for _, owner := range all {
		if owner == userID {
			return nil
		}
	}

	// 4. 最后一条连接, 摘除在线状态并广播下线
	if err := t.store.SRem(ctx, OnlineUsersKey, userID); err != nil {
		return fmt.Errorf("摘除在线用户失败: %v", err)
	}

	if err := t.broker.BroadcastToAll(ctx, model.EventUserOffline, model.PresenceEvent{
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		t.log.Warn(ctx, "广播下线通知失败",
			logger.F("userID", userID),
			logger.F("error", err.Error()))
	}

	return nil
}

// CheckPresence 批量查询在线状态, 结果保持请求顺序
func (t *PresenceTracker) CheckPresence(ctx context.Context, userIDs []string) ([]model.UserStatus, error) {
	statuses := make([]model.UserStatus, 0, len(userIDs))
	for _, userID := range userIDs {
		online, err := t.store.SIsMember(ctx, OnlineUsersKey, userID)
		if err != nil {
			return nil, fmt.Errorf("查询用户在线状态失败: %v", err)
		}
		statuses = append(statuses, model.UserStatus{
			UserID: userID,
			Online: online,
		})
	}
	return statuses, nil
}

// GetAllOnline 获取全量在线用户
func (t *PresenceTracker) GetAllOnline(ctx context.Context) ([]string, error) {
	users, err := t.store.SMembers(ctx, OnlineUsersKey)
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %v", err)
	}
	return users, nil
}
