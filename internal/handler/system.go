package handlers

import (
	"context"
	"net/http"
	"time"

	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/metrics"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	data := gin.H{"status": "healthy"}
	if h.hub != nil {
		data["websocketConnections"] = h.hub.GetConnectionCount()
	}
	if snap, err := metrics.CollectSystem(ctx); err == nil {
		data["system"] = snap
	} else {
		logger.Debug("collect system snapshot failed", zap.Error(err))
	}

	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		logger.Warn("health check database ping failed", zap.Error(err))
		data["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Message: "database unavailable", Data: data})
		return
	}
	response.Success(c, "ok", data)
}
