package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace-realtime/apps/realtime-service/model"
	"marketplace-realtime/apps/realtime-service/service"
	"marketplace-realtime/pkg/auth"
	"marketplace-realtime/pkg/config"
	"marketplace-realtime/pkg/logger"
	"marketplace-realtime/pkg/middleware"
)

// WSHandler WebSocket协议处理器
type WSHandler struct {
	svc      *service.Service
	log      logger.Logger
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewWSHandler 创建WebSocket处理器
func NewWSHandler(svc *service.Service, cfg *config.Config, log logger.Logger) *WSHandler {
	allowed := make(map[string]struct{}, len(cfg.Realtime.AllowedOrigins))
	for _, origin := range cfg.Realtime.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &WSHandler{
		svc: svc,
		log: log,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 白名单为空时不限制来源
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (ws *WSHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/realtime")
	{
		api.GET("/ws", ws.HandleConnection) // WebSocket长连接
	}
}

// HandleConnection 处理WebSocket连接
// 准入检查在升级前完成, 无效凭证直接返回401, 不建立连接
func (ws *WSHandler) HandleConnection(c *gin.Context) {
	// 1. 取token：优先query参数, 其次Authorization header
	token := c.Query("token")
	if token == "" {
		token = middleware.ExtractTokenFromHeader(c.GetHeader("Authorization"))
	}
	if token == "" {
		ws.log.Warn(c.Request.Context(), "连接缺少认证token", logger.F("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证token"})
		return
	}

	// 2. 验证JWT
	claims, err := auth.ValidateJWT(token, ws.cfg.App.JWTSecret)
	if err != nil {
		ws.log.Warn(c.Request.Context(), "连接认证失败",
			logger.F("remote", c.ClientIP()),
			logger.F("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效认证token"})
		return
	}

	// 3. 升级到WebSocket连接
	conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.log.Error(c.Request.Context(), "WebSocket升级失败", logger.F("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := "conn-" + uuid.NewString()
	client := service.NewClient(connID, claims.UserID, claims.Role, conn)
	ctx := logger.WithConnID(logger.WithUserID(c.Request.Context(), claims.UserID), connID)

	// 4. 接入：登记连接并标记上线
	// 存储瞬时故障不断开连接, 客户端可以用presence:online重试
	if err := ws.svc.HandleConnect(ctx, client); err != nil {
		client.SendError("上线登记失败, 请稍后重试")
	}

	// 5. 断开时清理：输入状态、在线状态、房间成员关系
	defer ws.svc.HandleDisconnect(ctx, client)

	ws.readLoop(c, conn, client)
}

// readLoop 消费连接上的事件帧直到连接关闭
func (ws *WSHandler) readLoop(c *gin.Context, conn *websocket.Conn, client *service.Client) {
	ctx := logger.WithConnID(logger.WithUserID(c.Request.Context(), client.UserID), client.ConnID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			ws.log.Info(ctx, "WebSocket连接关闭", logger.F("error", err.Error()))
			return
		}

		var event model.ClientEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			ws.log.Warn(ctx, "无法解析的事件帧", logger.F("error", err.Error()))
			client.SendError("无法解析的事件帧")
			continue
		}

		ws.dispatch(c, client, &event)
	}
}

// dispatch 路由客户端事件到对应的处理逻辑
func (ws *WSHandler) dispatch(c *gin.Context, client *service.Client, event *model.ClientEvent) {
	ctx := logger.WithConnID(logger.WithUserID(c.Request.Context(), client.UserID), client.ConnID)

	switch event.Event {
	case model.EventPresenceOnline:
		// 接入时已标记上线, 重复标记只是再广播一次
		if err := ws.svc.HandleMarkOnline(ctx, client); err != nil {
			client.SendError("上线登记失败")
		}

	case model.EventPresenceOffline:
		if err := ws.svc.HandleMarkOffline(ctx, client); err != nil {
			ws.log.Error(ctx, "显式下线处理失败", logger.F("error", err.Error()))
			client.SendError("下线处理失败")
		}

	case model.EventPresenceCheck:
		var req model.PresenceCheckRequest
		// 载荷非法时按空列表处理, 返回空结果
		_ = json.Unmarshal(event.Data, &req)
		if err := ws.svc.HandlePresenceCheck(ctx, client, req.UserIDs); err != nil {
			ws.log.Error(ctx, "在线状态查询失败", logger.F("error", err.Error()))
			client.SendError("在线状态查询失败")
		}

	case model.EventPresenceGetAllOnline:
		if err := ws.svc.HandleGetAllOnline(ctx, client); err != nil {
			ws.log.Error(ctx, "全量在线查询失败", logger.F("error", err.Error()))
			client.SendError("全量在线查询失败")
		}

	case model.EventTypingStart:
		req, ok := ws.parseTyping(client, event.Data)
		if ok {
			ws.svc.HandleTypingStart(ctx, client, req.ConversationID)
		}

	case model.EventTypingStop:
		req, ok := ws.parseTyping(client, event.Data)
		if ok {
			ws.svc.HandleTypingStop(ctx, client, req.ConversationID)
		}

	case model.EventChatJoin:
		var req model.RoomRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.ConversationID == "" {
			client.SendError("缺少conversationId")
			return
		}
		if err := ws.svc.HandleJoinRoom(ctx, client, model.ConversationRoom(req.ConversationID)); err != nil {
			client.SendError("加入会话失败")
		}

	case model.EventChatLeave:
		var req model.RoomRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.ConversationID == "" {
			client.SendError("缺少conversationId")
			return
		}
		ws.svc.HandleLeaveRoom(ctx, client, model.ConversationRoom(req.ConversationID))

	case model.EventChatMessage:
		var req model.ChatMessageRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.ConversationID == "" {
			client.SendError("缺少conversationId")
			return
		}
		if err := ws.svc.HandleChatMessage(ctx, client, &req); err != nil {
			ws.log.Error(ctx, "会话消息处理失败", logger.F("error", err.Error()))
			client.SendError("消息发送失败")
		}

	case model.EventGroupJoin:
		var req model.RoomRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.GroupID == "" {
			client.SendError("缺少groupId")
			return
		}
		if err := ws.svc.HandleJoinRoom(ctx, client, model.GroupRoom(req.GroupID)); err != nil {
			client.SendError("加入群组失败")
		}

	case model.EventGroupLeave:
		var req model.RoomRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.GroupID == "" {
			client.SendError("缺少groupId")
			return
		}
		ws.svc.HandleLeaveRoom(ctx, client, model.GroupRoom(req.GroupID))

	case model.EventGroupMessage:
		var req model.ChatMessageRequest
		if err := json.Unmarshal(event.Data, &req); err != nil || req.GroupID == "" {
			client.SendError("缺少groupId")
			return
		}
		if err := ws.svc.HandleGroupMessage(ctx, client, &req); err != nil {
			ws.log.Error(ctx, "群组消息处理失败", logger.F("error", err.Error()))
			client.SendError("消息发送失败")
		}

	default:
		ws.log.Warn(ctx, "未知的客户端事件", logger.F("event", event.Event))
		client.SendError("未知事件: " + event.Event)
	}
}

// parseTyping 解析输入状态请求, 校验会话ID
func (ws *WSHandler) parseTyping(client *service.Client, data json.RawMessage) (*model.TypingRequest, bool) {
	var req model.TypingRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		client.SendError("缺少conversationId")
		return nil, false
	}
	return &req, true
}
