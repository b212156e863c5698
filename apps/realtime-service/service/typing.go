package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/logger"
)

// typingEntry 单个(用户,会话)的进行中输入状态
type typingEntry struct {
	timer  *time.Timer
	connID string
}

// TypingCoordinator 输入状态协调器
// 每个(用户,会话)维护一个倒计时, 新的typing:start重置倒计时,
// 超时或显式typing:stop触发停止广播。定时器只在本实例维护,
// 广播经共享频道到达所有实例
type TypingCoordinator struct {
	broker  *Broker
	timeout time.Duration
	log     logger.Logger

	mu      sync.Mutex
	entries map[string]*typingEntry // userID|conversationID -> 进行中状态
}

// NewTypingCoordinator 创建输入状态协调器
func NewTypingCoordinator(broker *Broker, timeout time.Duration, log logger.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		broker:  broker,
		timeout: timeout,
		log:     log,
		entries: make(map[string]*typingEntry),
	}
}

func typingKey(userID, conversationID string) string {
	return userID + "|" + conversationID
}

// Start 处理typing:start
// 已有倒计时的重复start重置计时并再次广播, 订阅方按幂等处理
func (c *TypingCoordinator) Start(ctx context.Context, userID, connID, conversationID string) {
	key := typingKey(userID, conversationID)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.timer.Stop()
	}

	entry := &typingEntry{connID: connID}
	entry.timer = time.AfterFunc(c.timeout, func() {
		c.expire(key, entry, userID, conversationID)
	})
	c.entries[key] = entry
	c.mu.Unlock()

	c.broadcast(ctx, model.EventTypingUserStart, userID, connID, conversationID)
}

// Stop 处理typing:stop
// 无论倒计时是否存在都广播停止, 避免客户端状态与服务端失同步
func (c *TypingCoordinator) Stop(ctx context.Context, userID, connID, conversationID string) {
	key := typingKey(userID, conversationID)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.timer.Stop()
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.broadcast(ctx, model.EventTypingUserStop, userID, connID, conversationID)
}

// expire 倒计时到期回调
// 比对定时器身份, 到期瞬间被新start替换的旧定时器直接放弃,
// 保证替换竞争下恰好一次自动停止
func (c *TypingCoordinator) expire(key string, entry *typingEntry, userID, conversationID string) {
	c.mu.Lock()
	current, ok := c.entries[key]
	if !ok || current != entry {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()

	c.broadcast(context.Background(), model.EventTypingUserStop, userID, entry.connID, conversationID)
}

// CleanupConnection 连接断开时清理其用户的全部输入状态
// 对每个进行中的会话广播一次停止通知
func (c *TypingCoordinator) CleanupConnection(ctx context.Context, userID, connID string) {
	prefix := userID + "|"

	c.mu.Lock()
	var conversations []string
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			entry.timer.Stop()
			delete(c.entries, key)
			conversations = append(conversations, strings.TrimPrefix(key, prefix))
		}
	}
	c.mu.Unlock()

	for _, conversationID := range conversations {
		c.broadcast(ctx, model.EventTypingUserStop, userID, connID, conversationID)
	}
}

// broadcast 向会话房间广播输入状态, 排除发起者自己的连接
func (c *TypingCoordinator) broadcast(ctx context.Context, event, userID, connID, conversationID string) {
	err := c.broker.BroadcastToRoom(ctx, model.ConversationRoom(conversationID), event, model.TypingEvent{
		UserID:         userID,
		ConversationID: conversationID,
		Timestamp:      time.Now().Unix(),
	}, connID)
	if err != nil {
		c.log.Warn(ctx, "广播输入状态失败",
			logger.F("userID", userID),
			logger.F("conversationID", conversationID),
			logger.F("event", event),
			logger.F("error", err.Error()))
	}
}
