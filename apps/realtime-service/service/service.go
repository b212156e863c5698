package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/logger"
	"marketplace-realtime/pkg/telemetry"
)

// Service 实时服务核心
// 编排连接生命周期、在线状态、输入状态和房间广播,
// 每条连接的处理流程由读循环单线程驱动
type Service struct {
	instanceID string
	broker     *Broker
	presence   *PresenceTracker
	typing     *TypingCoordinator
	producer   MessageProducer
	registry   *InstanceRegistry
	log        logger.Logger

	archiveTopic string
}

// NewService 创建实时服务
// registry可以为nil, 此时统计接口只返回本实例数据
func NewService(instanceID string, store PresenceStore, bus EventBus, producer MessageProducer, registry *InstanceRegistry, log logger.Logger, typingTimeout time.Duration, archiveTopic string) *Service {
	broker := NewBroker(instanceID, bus, log)
	return &Service{
		instanceID:   instanceID,
		broker:       broker,
		presence:     NewPresenceTracker(store, broker, log),
		typing:       NewTypingCoordinator(broker, typingTimeout, log),
		producer:     producer,
		registry:     registry,
		log:          log,
		archiveTopic: archiveTopic,
	}
}

// Start 启动广播代理与实例心跳
func (s *Service) Start(ctx context.Context) error {
	if err := s.broker.Start(ctx); err != nil {
		return err
	}
	if s.registry != nil {
		if err := s.registry.Start(ctx); err != nil {
			s.broker.Stop()
			return err
		}
	}
	return nil
}

// Stop 停止服务：摘除实例注册, 停止投递循环, 关闭全部本地连接
func (s *Service) Stop(ctx context.Context) {
	if s.registry != nil {
		s.registry.Stop(ctx)
	}
	s.broker.Stop()
	s.broker.CloseAllLocal()
}

// InstanceID 本实例标识
func (s *Service) InstanceID() string {
	return s.instanceID
}

// HandleConnect 处理已准入连接的接入
// 在线状态写入失败时连接保留, 由调用方通知客户端重试
func (s *Service) HandleConnect(ctx context.Context, client *Client) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.connect",
		trace.WithAttributes(attribute.String("user.id", client.UserID)))
	defer span.End()

	s.broker.Register(client)

	if err := s.presence.MarkOnline(ctx, client.UserID, client.ConnID); err != nil {
		s.log.Error(ctx, "标记用户上线失败",
			logger.F("userID", client.UserID),
			logger.F("connID", client.ConnID),
			logger.F("error", err.Error()))
		return err
	}

	s.log.Info(ctx, "连接已接入",
		logger.F("userID", client.UserID),
		logger.F("connID", client.ConnID))
	return nil
}

// HandleDisconnect 处理连接断开
// 清理顺序：输入状态 -> 在线状态 -> 房间成员关系,
// 保证typing:user_stop先于presence:user_offline送达
func (s *Service) HandleDisconnect(ctx context.Context, client *Client) {
	ctx, span := telemetry.StartSpan(ctx, "realtime.disconnect",
		trace.WithAttributes(attribute.String("user.id", client.UserID)))
	defer span.End()

	s.typing.CleanupConnection(ctx, client.UserID, client.ConnID)

	if err := s.presence.MarkOffline(ctx, client.ConnID); err != nil {
		// 尽力而为：失败的残留由下一次同用户上下线收敛
		s.log.Error(ctx, "标记连接下线失败",
			logger.F("connID", client.ConnID),
			logger.F("error", err.Error()))
	}

	s.broker.Unregister(client.ConnID)

	s.log.Info(ctx, "连接已断开",
		logger.F("userID", client.UserID),
		logger.F("connID", client.ConnID))
}

// HandlePresenceCheck 批量查询在线状态并回推给发起连接
func (s *Service) HandlePresenceCheck(ctx context.Context, client *Client, userIDs []string) error {
	statuses, err := s.presence.CheckPresence(ctx, userIDs)
	if err != nil {
		return err
	}
	return client.SendEvent(model.EventPresenceStatus, statuses)
}

// HandleGetAllOnline 查询全量在线用户并回推给发起连接
func (s *Service) HandleGetAllOnline(ctx context.Context, client *Client) error {
	users, err := s.presence.GetAllOnline(ctx)
	if err != nil {
		return err
	}
	return client.SendEvent(model.EventAllOnline, model.AllOnlineEvent{Users: users})
}

// HandleMarkOnline 处理客户端显式的presence:online
// 接入时已标记过, 重复标记会再次广播上线通知
func (s *Service) HandleMarkOnline(ctx context.Context, client *Client) error {
	return s.presence.MarkOnline(ctx, client.UserID, client.ConnID)
}

// HandleMarkOffline 处理客户端显式的presence:offline
func (s *Service) HandleMarkOffline(ctx context.Context, client *Client) error {
	return s.presence.MarkOffline(ctx, client.ConnID)
}

// HandleTypingStart 处理typing:start
func (s *Service) HandleTypingStart(ctx context.Context, client *Client, conversationID string) {
	s.typing.Start(ctx, client.UserID, client.ConnID, conversationID)
}

// HandleTypingStop 处理typing:stop
func (s *Service) HandleTypingStop(ctx context.Context, client *Client, conversationID string) {
	s.typing.Stop(ctx, client.UserID, client.ConnID, conversationID)
}

// HandleJoinRoom 加入房间
func (s *Service) HandleJoinRoom(ctx context.Context, client *Client, roomID string) error {
	return s.broker.Join(client.ConnID, roomID)
}

// HandleLeaveRoom 离开房间
func (s *Service) HandleLeaveRoom(ctx context.Context, client *Client, roomID string) {
	s.broker.Leave(client.ConnID, roomID)
}

// HandleChatMessage 处理会话消息
// 先广播给房间其他成员, 再异步交接归档；归档失败只记日志, 不影响投递
func (s *Service) HandleChatMessage(ctx context.Context, client *Client, req *model.ChatMessageRequest) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.chat_message",
		trace.WithAttributes(
			attribute.String("user.id", client.UserID),
			attribute.String("conversation.id", req.ConversationID)))
	defer span.End()

	event := model.ChatMessageEvent{
		MessageID:      uuid.NewString(),
		ConversationID: req.ConversationID,
		UserID:         client.UserID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		Timestamp:      time.Now().Unix(),
	}

	roomID := model.ConversationRoom(req.ConversationID)
	if err := s.broker.BroadcastToRoom(ctx, roomID, model.EventChatNewMessage, event, client.ConnID); err != nil {
		return fmt.Errorf("广播会话消息失败: %v", err)
	}

	s.archive(ctx, req.ConversationID, &model.ArchiveRecord{
		MessageID:      event.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       client.UserID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		Timestamp:      event.Timestamp,
	})
	return nil
}

// HandleGroupMessage 处理群组消息
func (s *Service) HandleGroupMessage(ctx context.Context, client *Client, req *model.ChatMessageRequest) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.group_message",
		trace.WithAttributes(
			attribute.String("user.id", client.UserID),
			attribute.String("group.id", req.GroupID)))
	defer span.End()

	event := model.ChatMessageEvent{
		MessageID:   uuid.NewString(),
		GroupID:     req.GroupID,
		UserID:      client.UserID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Timestamp:   time.Now().Unix(),
	}

	roomID := model.GroupRoom(req.GroupID)
	if err := s.broker.BroadcastToRoom(ctx, roomID, model.EventGroupNewMessage, event, client.ConnID); err != nil {
		return fmt.Errorf("广播群组消息失败: %v", err)
	}

	s.archive(ctx, req.GroupID, &model.ArchiveRecord{
		MessageID:   event.MessageID,
		GroupID:     req.GroupID,
		SenderID:    client.UserID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Timestamp:   event.Timestamp,
	})
	return nil
}

// archive 把消息交接给归档主题, key按会话/群组路由保证同会话有序
func (s *Service) archive(ctx context.Context, key string, record *model.ArchiveRecord) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishMessage(s.archiveTopic, key, record); err != nil {
		s.log.Error(ctx, "消息归档交接失败",
			logger.F("messageID", record.MessageID),
			logger.F("error", err.Error()))
	}
}

// GetAllOnlineUsers 供REST接口查询全量在线用户
func (s *Service) GetAllOnlineUsers(ctx context.Context) ([]string, error) {
	return s.presence.GetAllOnline(ctx)
}

// Stats 汇总统计信息
func (s *Service) Stats(ctx context.Context) map[string]interface{} {
	stats := s.broker.LocalStats()
	stats["instance_id"] = s.instanceID

	if s.registry != nil {
		instances, err := s.registry.ActiveInstances(ctx)
		if err != nil {
			s.log.Warn(ctx, "查询活跃实例失败", logger.F("error", err.Error()))
		} else {
			stats["active_instances"] = instances
		}
	}
	return stats
}
