package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/pkg/logger"
)

// fakeStore 内存版在线状态存储
type fakeStore struct {
	mu     sync.Mutex
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string
	fail   bool // 置位后所有操作返回错误
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
	}
}

func (s *fakeStore) err() error {
	if s.fail {
		return fmt.Errorf("存储不可用")
	}
	return nil
}

func (s *fakeStore) SAdd(ctx context.Context, key string, members ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		s.sets[key][fmt.Sprint(m)] = struct{}{}
	}
	return nil
}

func (s *fakeStore) SRem(ctx context.Context, key string, members ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	for _, m := range members {
		delete(s.sets[key], fmt.Sprint(m))
	}
	return nil
}

func (s *fakeStore) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return false, err
	}
	_, ok := s.sets[key][fmt.Sprint(member)]
	return ok, nil
}

func (s *fakeStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *fakeStore) HSet(ctx context.Context, key, field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	s.hashes[key][field] = fmt.Sprint(value)
	return nil
}

func (s *fakeStore) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return "", err
	}
	return s.hashes[key][field], nil
}

func (s *fakeStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	for _, f := range fields {
		delete(s.hashes[key], f)
	}
	return nil
}

func (s *fakeStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		result[f] = v
	}
	return result, nil
}

// fakeBus 内存版事件总线, 把每条消息扇出给所有订阅者
// 多个Broker共享同一个fakeBus即可模拟多实例部署
type fakeBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := make([]chan []byte, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

// fakeConn 记录型连接, 保存推送给客户端的全部事件
type fakeConn struct {
	mu     sync.Mutex
	events []model.ServerEvent
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("连接已关闭")
	}
	c.events = append(c.events, v.(model.ServerEvent))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Events 当前已收到的事件快照
func (c *fakeConn) Events() []model.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]model.ServerEvent, len(c.events))
	copy(snapshot, c.events)
	return snapshot
}

// CountEvent 统计某类事件的数量
func (c *fakeConn) CountEvent(event string) int {
	count := 0
	for _, e := range c.Events() {
		if e.Event == event {
			count++
		}
	}
	return count
}

// fakeProducer 记录型归档生产者
type fakeProducer struct {
	mu      sync.Mutex
	records []interface{}
}

func (p *fakeProducer) PublishMessage(topic, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, value)
	return nil
}

func (p *fakeProducer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// newTestService 组装单实例测试环境
func newTestService(t *testing.T, store PresenceStore, bus EventBus, timeout time.Duration) *Service {
	t.Helper()

	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatalf("创建日志器失败: %v", err)
	}

	svc := NewService("test-instance", store, bus, &fakeProducer{}, nil, log, timeout, "message_archive")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("启动服务失败: %v", err)
	}
	return svc
}

// waitFor 轮询等待条件成立, 超时报错
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}
