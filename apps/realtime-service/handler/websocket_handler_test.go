package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/apps/realtime-service/service"
	"marketplace-realtime/pkg/auth"
	"marketplace-realtime/pkg/config"
	"marketplace-realtime/pkg/logger"
)

const testSecret = "test-secret"

// memStore 内存版在线状态存储
type memStore struct {
	mu     sync.Mutex
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
	}
}

func (s *memStore) SAdd(ctx context.Context, key string, members ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		s.sets[key][fmt.Sprint(m)] = struct{}{}
	}
	return nil
}

func (s *memStore) SRem(ctx context.Context, key string, members ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.sets[key], fmt.Sprint(m))
	}
	return nil
}

func (s *memStore) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][fmt.Sprint(member)]
	return ok, nil
}

func (s *memStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *memStore) HSet(ctx context.Context, key, field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	s.hashes[key][field] = fmt.Sprint(value)
	return nil
}

func (s *memStore) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[key][field], nil
}

func (s *memStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.hashes[key], f)
	}
	return nil
}

func (s *memStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		result[f] = v
	}
	return result, nil
}

// memBus 内存版事件总线
type memBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := make([]chan []byte, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, sub := range subs {
		sub <- payload
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

// newTestServer 组装测试用HTTP服务器
func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}

	cfg := &config.Config{}
	cfg.App.JWTSecret = testSecret

	svc := service.NewService("test-instance", newMemStore(), &memBus{}, nil, nil, log, time.Second, "message_archive")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("启动服务失败: %v", err)
	}

	engine := gin.New()
	NewWSHandler(svc, cfg, log).RegisterRoutes(engine)
	NewHTTPHandler(svc, log).RegisterRoutes(engine)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server, svc
}

// wsURL 把httptest服务器地址转成ws地址
func wsURL(server *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/realtime/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

// TestWSAdmissionRejectsInvalidToken 测试无效凭证在升级前被拒绝
func TestWSAdmissionRejectsInvalidToken(t *testing.T) {
	server, svc := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{"缺少token", ""},
		{"非法token", "not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, tc.token), nil)
			if err == nil {
				conn.Close()
				t.Fatalf("无效凭证不应完成握手")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("期望401, 实际 %v", resp)
			}
		})
	}

	// 被拒绝的连接不应留下任何在线痕迹
	users, err := svc.GetAllOnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("查询在线用户失败: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("拒绝准入后不应有在线用户: %v", users)
	}
}

// TestWSAdmissionRejectsExpiredToken 测试过期令牌被拒绝
func TestWSAdmissionRejectsExpiredToken(t *testing.T) {
	server, svc := newTestServer(t)

	token, err := auth.GenerateJWT("user-1", "buyer", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("生成token失败: %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, token), nil)
	if err == nil {
		conn.Close()
		t.Fatalf("过期令牌不应完成握手")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("期望401, 实际 %v", resp)
	}

	users, err := svc.GetAllOnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("查询在线用户失败: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("过期令牌被拒后不应有在线用户: %v", users)
	}
}

// TestWSPresenceCheckRoundTrip 测试连接后查询在线状态
func TestWSPresenceCheckRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)

	token, err := auth.GenerateJWT("alice", "buyer", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("生成token失败: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, token), nil)
	if err != nil {
		t.Fatalf("建立连接失败: %v", err)
	}
	defer conn.Close()

	// 查询自己和一个离线用户
	payload, _ := json.Marshal(model.PresenceCheckRequest{UserIDs: []string{"alice", "ghost"}})
	err = conn.WriteJSON(model.ClientEvent{Event: model.EventPresenceCheck, Data: payload})
	if err != nil {
		t.Fatalf("发送查询失败: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame struct {
			Event string             `json:"event"`
			Data  []model.UserStatus `json:"data"`
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("没有收到查询结果: %v", err)
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			// 广播类事件的载荷结构不同, 跳过
			continue
		}
		// 跳过广播类事件, 只关心查询结果
		if frame.Event != model.EventPresenceStatus {
			continue
		}
		want := []model.UserStatus{
			{UserID: "alice", Online: true},
			{UserID: "ghost", Online: false},
		}
		if len(frame.Data) != 2 || frame.Data[0] != want[0] || frame.Data[1] != want[1] {
			t.Errorf("查询结果不匹配: %+v", frame.Data)
		}
		return
	}
}

// TestWSUnknownEvent 测试未知事件返回错误通知
func TestWSUnknownEvent(t *testing.T) {
	server, _ := newTestServer(t)

	token, err := auth.GenerateJWT("alice", "buyer", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("生成token失败: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, token), nil)
	if err != nil {
		t.Fatalf("建立连接失败: %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(model.ClientEvent{Event: "nonsense:event", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("发送事件失败: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame model.ServerEvent
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("没有收到错误通知: %v", err)
		}
		if frame.Event == model.EventError {
			return
		}
	}
}
