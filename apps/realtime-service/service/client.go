package service

import (
	"sync"

	"marketplace-realtime/apps/realtime-service/model"
)

// EventConn 底层连接的写入面
// gorilla的*websocket.Conn满足该接口, 测试用记录型假连接替代
type EventConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client 一条已准入的连接
// 连接的生命周期由监督逻辑独占管理, 断开即销毁
type Client struct {
	ConnID string
	UserID string
	Role   string

	conn    EventConn
	writeMu sync.Mutex // gorilla连接不允许并发写
}

// NewClient 创建连接包装
func NewClient(connID, userID, role string, conn EventConn) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		Role:   role,
		conn:   conn,
	}
}

// SendEvent 向客户端推送命名事件
func (c *Client) SendEvent(event string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(model.ServerEvent{
		Event: event,
		Data:  data,
	})
}

// SendError 向客户端推送错误事件
func (c *Client) SendError(message string) {
	// 错误通知本身失败没有进一步处理手段
	_ = c.SendEvent(model.EventError, model.ErrorEvent{Message: message})
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.conn.Close()
}
