package websocket

import (
	"net/http"

	"SafeHaven/pkg/constant"

	"github.com/gin-gonic/gin"
)

// GroupsFunc 决定连接加入哪些组，例如按角色
type GroupsFunc func(c *gin.Context) []string

// Handler WebSocket HTTP处理器
type Handler struct {
	hub    *Hub
	groups GroupsFunc
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub, groups GroupsFunc) *Handler {
	return &Handler{hub: hub, groups: groups}
}

// HandleWebSocket 处理WebSocket连接请求，需在认证中间件之后
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(constant.UserField)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"kind": "unauthenticated", "message": "missing identity"},
		})
		return
	}
	var groups []string
	if h.groups != nil {
		groups = h.groups(c)
	}
	HandleWebSocket(h.hub, c.Writer, c.Request, userID, groups...)
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total_connections":  h.hub.GetConnectionCount(),
			"dropped_messages":   h.hub.GetDroppedCount(),
			"max_connections":    h.hub.config.MaxConnections,
			"heartbeat_interval": h.hub.config.HeartbeatInterval.String(),
			"connection_timeout": h.hub.config.ConnectionTimeout.String(),
		},
	})
}
