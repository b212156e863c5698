package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-realtime/apps/realtime-service/service"
	"marketplace-realtime/pkg/logger"
)

// HTTPHandler REST接口处理器
type HTTPHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewHTTPHandler 创建REST处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log,
	}
}

// RegisterRoutes 注册REST路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/realtime")
	{
		api.GET("/online", h.GetOnlineUsers) // 全量在线用户
		api.GET("/stats", h.GetStats)        // 实例统计
	}
}

// GetOnlineUsers 查询全量在线用户
func (h *HTTPHandler) GetOnlineUsers(c *gin.Context) {
	users, err := h.svc.GetAllOnlineUsers(c.Request.Context())
	if err != nil {
		h.log.Error(c.Request.Context(), "查询在线用户失败", logger.F("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询在线用户失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

// GetStats 查询实例统计
func (h *HTTPHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}
