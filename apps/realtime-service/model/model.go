package model

import "encoding/json"

// 客户端事件（client→server）
const (
	EventPresenceOnline       = "presence:online"
	EventPresenceOffline      = "presence:offline"
	EventPresenceCheck        = "presence:check"
	EventPresenceGetAllOnline = "presence:get_all_online"
	EventTypingStart          = "typing:start"
	EventTypingStop           = "typing:stop"
	EventChatJoin             = "chat:join"
	EventChatLeave            = "chat:leave"
	EventChatMessage          = "chat:message"
	EventGroupJoin            = "group:join"
	EventGroupLeave           = "group:leave"
	EventGroupMessage         = "group:message"
)

// 服务端事件（server→client）
const (
	EventUserOnline      = "presence:user_online"
	EventUserOffline     = "presence:user_offline"
	EventPresenceStatus  = "presence:status"
	EventAllOnline       = "presence:all_online"
	EventTypingUserStart = "typing:user_start"
	EventTypingUserStop  = "typing:user_stop"
	EventChatNewMessage  = "chat:new_message"
	EventGroupNewMessage = "group:new_message"
	EventError           = "error"
)

// 房间ID前缀：会话房间和群组房间共用一套广播机制
const (
	ConversationRoomPrefix = "conversation:"
	GroupRoomPrefix        = "group:"
)

// ConversationRoom 会话对应的房间ID
func ConversationRoom(conversationID string) string {
	return ConversationRoomPrefix + conversationID
}

// GroupRoom 群组对应的房间ID
func GroupRoom(groupID string) string {
	return GroupRoomPrefix + groupID
}

// ClientEvent 客户端事件帧
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent 服务端事件帧
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// PresenceCheckRequest 在线状态查询请求
type PresenceCheckRequest struct {
	UserIDs []string `json:"userIds"`
}

// UserStatus 单个用户的在线状态
type UserStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// PresenceEvent 上线/下线通知
type PresenceEvent struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// AllOnlineEvent 全量在线用户列表
type AllOnlineEvent struct {
	Users []string `json:"users"`
}

// TypingRequest 输入状态请求
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
}

// TypingEvent 输入状态通知
type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

// RoomRequest 加入/离开会话房间请求
type RoomRequest struct {
	ConversationID string `json:"conversationId"`
	GroupID        string `json:"groupId"`
}

// ChatMessageRequest 聊天消息请求
type ChatMessageRequest struct {
	ConversationID string `json:"conversationId"`
	GroupID        string `json:"groupId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
}

// ChatMessageEvent 聊天消息通知
type ChatMessageEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	UserID         string `json:"userId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	Timestamp      int64  `json:"timestamp"`
}

// ErrorEvent 错误通知
type ErrorEvent struct {
	Message string `json:"message"`
}

// RoomEnvelope 跨实例广播信封
// 所有房间广播都经共享频道中转, RoomID为空表示广播给全部本地连接
type RoomEnvelope struct {
	OriginInstance string          `json:"originInstance"`
	RoomID         string          `json:"roomId"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	ExcludeConnID  string          `json:"excludeConnId,omitempty"`
}

// ArchiveRecord 消息归档记录, 交接给外部持久化服务
type ArchiveRecord struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	Timestamp      int64  `json:"timestamp"`
}
