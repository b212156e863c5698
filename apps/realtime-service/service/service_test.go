package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"marketplace-realtime/apps/realtime-service/model"
)

// TestChatMessageFanout 测试会话消息广播与归档交接
func TestChatMessageFanout(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeBus(), time.Second)
	producer := svc.producer.(*fakeProducer)

	alice, aliceConn := connect(t, svc, "alice", "conn-a")
	bob, bobConn := connect(t, svc, "bob", "conn-b")
	joinConversation(t, svc, alice, "conv-1")
	joinConversation(t, svc, bob, "conv-1")

	err := svc.HandleChatMessage(context.Background(), alice, &model.ChatMessageRequest{
		ConversationID: "conv-1",
		Content:        "hello",
		MessageType:    "text",
	})
	if err != nil {
		t.Fatalf("发送会话消息失败: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return bobConn.CountEvent(model.EventChatNewMessage) == 1
	}, "bob没有收到会话消息")

	// 发送者不回显
	if got := aliceConn.CountEvent(model.EventChatNewMessage); got != 0 {
		t.Errorf("发送者不应收到自己的消息, 实际收到 %d 条", got)
	}

	// 消息已交接归档
	if producer.Count() != 1 {
		t.Errorf("归档记录应该恰好1条, 实际 %d 条", producer.Count())
	}

	var event model.ChatMessageEvent
	for _, e := range bobConn.Events() {
		if e.Event == model.EventChatNewMessage {
			if err := json.Unmarshal(e.Data.(json.RawMessage), &event); err != nil {
				t.Fatalf("解析消息失败: %v", err)
			}
		}
	}
	if event.MessageID == "" {
		t.Errorf("消息应该携带服务端生成的ID")
	}
	if event.UserID != "alice" || event.Content != "hello" {
		t.Errorf("消息内容不匹配: %+v", event)
	}
}

// TestGroupMessageFanout 测试群组消息广播
func TestGroupMessageFanout(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeBus(), time.Second)

	alice, _ := connect(t, svc, "alice", "conn-a")
	bob, bobConn := connect(t, svc, "bob", "conn-b")
	carol, carolConn := connect(t, svc, "carol", "conn-c")

	for _, c := range []*Client{alice, bob} {
		if err := svc.HandleJoinRoom(context.Background(), c, model.GroupRoom("g-1")); err != nil {
			t.Fatalf("加入群组失败: %v", err)
		}
	}
	_ = carol // carol不在群里

	err := svc.HandleGroupMessage(context.Background(), alice, &model.ChatMessageRequest{
		GroupID:     "g-1",
		Content:     "大家好",
		MessageType: "text",
	})
	if err != nil {
		t.Fatalf("发送群组消息失败: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return bobConn.CountEvent(model.EventGroupNewMessage) == 1
	}, "群成员没有收到消息")

	if got := carolConn.CountEvent(model.EventGroupNewMessage); got != 0 {
		t.Errorf("群外用户不应收到消息, 实际收到 %d 条", got)
	}
}

// TestLeaveRoomStopsDelivery 测试离开房间后不再接收广播
func TestLeaveRoomStopsDelivery(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeBus(), time.Second)

	alice, _ := connect(t, svc, "alice", "conn-a")
	bob, bobConn := connect(t, svc, "bob", "conn-b")
	joinConversation(t, svc, alice, "conv-1")
	joinConversation(t, svc, bob, "conv-1")

	req := &model.ChatMessageRequest{ConversationID: "conv-1", Content: "第一条", MessageType: "text"}
	if err := svc.HandleChatMessage(context.Background(), alice, req); err != nil {
		t.Fatalf("发送消息失败: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return bobConn.CountEvent(model.EventChatNewMessage) == 1
	}, "bob没有收到第一条消息")

	svc.HandleLeaveRoom(context.Background(), bob, model.ConversationRoom("conv-1"))

	req.Content = "第二条"
	if err := svc.HandleChatMessage(context.Background(), alice, req); err != nil {
		t.Fatalf("发送消息失败: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if got := bobConn.CountEvent(model.EventChatNewMessage); got != 1 {
		t.Errorf("离开房间后不应再收到消息, 实际共 %d 条", got)
	}
}

// TestStatsLocal 测试本实例统计
func TestStatsLocal(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeBus(), time.Second)

	connect(t, svc, "alice", "conn-a")
	connect(t, svc, "bob", "conn-b")

	stats := svc.Stats(context.Background())
	if stats["instance_id"] != "test-instance" {
		t.Errorf("统计缺少实例标识: %v", stats)
	}
	if stats["local_connections"].(int) != 2 {
		t.Errorf("本地连接数不对: %v", stats)
	}
}
