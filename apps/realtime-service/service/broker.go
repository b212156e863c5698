package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/logger"
)

// EventsChannel 所有实例共享的广播频道
const EventsChannel = "realtime:events"

// Broker 房间扇出代理
// 本地成员关系在内存维护, 跨实例投递走共享频道：
// 广播只发布一次, 每个实例（包括发布方自己）通过订阅回环投递给本地成员
type Broker struct {
	instanceID string
	bus        EventBus
	log        logger.Logger

	mu        sync.RWMutex
	clients   map[string]*Client             // connID -> 连接
	rooms     map[string]map[string]*Client  // roomID -> connID -> 连接
	connRooms map[string]map[string]struct{} // connID -> 已加入的房间

	cancel context.CancelFunc
}

// NewBroker 创建房间扇出代理
func NewBroker(instanceID string, bus EventBus, log logger.Logger) *Broker {
	return &Broker{
		instanceID: instanceID,
		bus:        bus,
		log:        log,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		connRooms:  make(map[string]map[string]struct{}),
	}
}

// Start 订阅共享频道并启动投递循环
// 订阅失败直接返回错误, 由启动流程决定终止进程
func (b *Broker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	ch, err := b.bus.Subscribe(ctx, EventsChannel)
	if err != nil {
		cancel()
		return fmt.Errorf("订阅共享广播频道失败: %v", err)
	}

	go b.deliverLoop(ctx, ch)

	b.log.Info(ctx, "房间扇出代理已启动", logger.F("instanceID", b.instanceID))
	return nil
}

// Stop 停止投递循环
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Register 登记本地连接
func (b *Broker) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clients[client.ConnID] = client
	b.connRooms[client.ConnID] = make(map[string]struct{})
}

// Unregister 注销本地连接并退出其全部房间
func (b *Broker) Unregister(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID := range b.connRooms[connID] {
		b.removeFromRoomLocked(connID, roomID)
	}
	delete(b.connRooms, connID)
	delete(b.clients, connID)
}

// Join 将连接加入房间（仅本实例成员关系）
func (b *Broker) Join(connID, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	client, ok := b.clients[connID]
	if !ok {
		return fmt.Errorf("连接 %s 未登记, 无法加入房间", connID)
	}

	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[string]*Client)
	}
	b.rooms[roomID][connID] = client
	b.connRooms[connID][roomID] = struct{}{}
	return nil
}

// Leave 将连接移出房间
func (b *Broker) Leave(connID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeFromRoomLocked(connID, roomID)
	if rooms, ok := b.connRooms[connID]; ok {
		delete(rooms, roomID)
	}
}

// removeFromRoomLocked 持锁状态下移除房间成员
func (b *Broker) removeFromRoomLocked(connID, roomID string) {
	if members, ok := b.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, roomID)
		}
	}
}

// InRoom 查询连接是否在房间中
func (b *Broker) InRoom(connID, roomID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.rooms[roomID][connID]
	return ok
}

// BroadcastToRoom 向房间广播事件, 可排除发送者连接
// 经共享频道投递到所有实例的本地成员；每个发布连接内部保持FIFO,
// 跨发布者没有全序保证, 频道丢弃消息不做重投
func (b *Broker) BroadcastToRoom(ctx context.Context, roomID, event string, data interface{}, excludeConnID string) error {
	return b.publish(ctx, roomID, event, data, excludeConnID)
}

// BroadcastToAll 向所有实例的全部连接广播事件
func (b *Broker) BroadcastToAll(ctx context.Context, event string, data interface{}) error {
	return b.publish(ctx, "", event, data, "")
}

// publish 将广播封包发布到共享频道
func (b *Broker) publish(ctx context.Context, roomID, event string, data interface{}, excludeConnID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件载荷失败: %v", err)
	}

	envelope := model.RoomEnvelope{
		OriginInstance: b.instanceID,
		RoomID:         roomID,
		Event:          event,
		Data:           payload,
		ExcludeConnID:  excludeConnID,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("序列化广播信封失败: %v", err)
	}

	if err := b.bus.Publish(ctx, EventsChannel, raw); err != nil {
		b.log.Error(ctx, "发布广播到共享频道失败",
			logger.F("roomID", roomID),
			logger.F("event", event),
			logger.F("error", err.Error()))
		return err
	}
	return nil
}

// deliverLoop 消费共享频道并投递给本地成员
func (b *Broker) deliverLoop(ctx context.Context, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				b.log.Warn(ctx, "共享广播频道已关闭", logger.F("instanceID", b.instanceID))
				return
			}

			var envelope model.RoomEnvelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				b.log.Error(ctx, "解析广播信封失败", logger.F("error", err.Error()))
				continue
			}
			b.deliverLocal(ctx, &envelope)
		}
	}
}

// deliverLocal 投递信封给本实例符合条件的连接
func (b *Broker) deliverLocal(ctx context.Context, envelope *model.RoomEnvelope) {
	b.mu.RLock()
	var targets []*Client
	if envelope.RoomID == "" {
		// 全员广播
		targets = make([]*Client, 0, len(b.clients))
		for connID, client := range b.clients {
			if connID == envelope.ExcludeConnID {
				continue
			}
			targets = append(targets, client)
		}
	} else {
		members := b.rooms[envelope.RoomID]
		targets = make([]*Client, 0, len(members))
		for connID, client := range members {
			if connID == envelope.ExcludeConnID {
				continue
			}
			targets = append(targets, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range targets {
		if err := client.SendEvent(envelope.Event, json.RawMessage(envelope.Data)); err != nil {
			// 写失败说明连接大概率已断开, 读循环会触发正式的清理
			b.log.Warn(ctx, "向本地连接投递事件失败",
				logger.F("connID", client.ConnID),
				logger.F("event", envelope.Event),
				logger.F("error", err.Error()))
		}
	}
}

// CloseAllLocal 关闭本实例的全部连接, 停机时调用
func (b *Broker) CloseAllLocal() {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.clients = make(map[string]*Client)
	b.rooms = make(map[string]map[string]*Client)
	b.connRooms = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}
}

// LocalStats 本实例连接与房间统计
func (b *Broker) LocalStats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"local_connections": len(b.clients),
		"local_rooms":       len(b.rooms),
	}
}
