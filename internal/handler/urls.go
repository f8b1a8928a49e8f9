package handlers

import (
	"SafeHaven/internal/emergency"
	"SafeHaven/internal/policy"
	"SafeHaven/pkg/constant"
	"SafeHaven/pkg/metrics"
	"SafeHaven/pkg/middleware"
	"SafeHaven/pkg/notification"
	"SafeHaven/pkg/websocket"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps 路由依赖；Limiter、Hub、Metrics 可为空
type Deps struct {
	DB          *gorm.DB
	Coordinator *emergency.Coordinator
	Auth        *middleware.Authenticator
	Limiter     *middleware.RateLimiter
	Hub         *websocket.Hub
	Metrics     *metrics.Metrics
	APIPrefix   string
}

type Handlers struct {
	db      *gorm.DB
	coord   *emergency.Coordinator
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	hub     *websocket.Hub
	metrics *metrics.Metrics
	prefix  string
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		db:      d.DB,
		coord:   d.Coordinator,
		auth:    d.Auth,
		limiter: d.Limiter,
		hub:     d.Hub,
		metrics: d.Metrics,
		prefix:  d.APIPrefix,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	if h.metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	r := engine.Group(h.prefix)
	// Register System Module Routes
	h.registerSystemRoutes(r)

	authed := r.Group("", h.auth.Middleware())
	if h.limiter != nil {
		authed.Use(h.limiter.Middleware())
	}
	// Register Business Module Routes
	h.registerSosRoutes(authed)
	h.registerLocationRoutes(authed)
	h.registerNotificationRoutes(authed)
	if h.hub != nil {
		h.registerWebsocketRoutes(authed)
	}
}

// SOS Module
func (h *Handlers) registerSosRoutes(r *gin.RouterGroup) {
	sos := r.Group("sos")
	{
		sos.POST("", h.handleTriggerSos)

		sos.DELETE("", h.handleCancelSos)

		sos.GET("/status", h.handleSosStatus)

		sos.GET("/history", h.handleSosHistory)

		// responders
		sos.GET("/active", h.handleListActiveSos)

		sos.GET("/stats", h.handleSosStats)

		sos.POST("/:id/resolve", h.handleResolveSos)
	}
}

// Location Module
func (h *Handlers) registerLocationRoutes(r *gin.RouterGroup) {
	loc := r.Group("locations")
	{
		loc.POST("/update", h.handleUpdateLocation)

		loc.GET("/history", h.handleLocationHistory)

		loc.POST("/share/start", h.handleStartSharing)

		loc.POST("/share/stop", h.handleStopSharing)

		loc.GET("/share/status", h.handleShareStatus)

		loc.GET("/share/:userId", h.handleSharedLocation)

		loc.GET("/riders", h.handleRiders)
	}
}

func (h *Handlers) registerNotificationRoutes(r *gin.RouterGroup) {
	notificationGroup := r.Group("notification")
	{
		notificationGroup.GET("unread-count", h.handleUnReadNotificationCount)

		notificationGroup.GET("", h.handleListNotifications)

		notificationGroup.POST("readAll", h.handleAllNotifications)

		notificationGroup.PUT("/read/:id", h.handleMarkNotificationAsRead)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)
	}
}

func (h *Handlers) registerWebsocketRoutes(r *gin.RouterGroup) {
	ws := websocket.NewHandler(h.hub, func(c *gin.Context) []string {
		role := policy.ParseRole(c.GetString(constant.RoleField))
		if !role.Valid() {
			return nil
		}
		return []string{notification.RoleGroup(string(role))}
	})
	r.GET("/ws", ws.HandleWebSocket)
	r.GET("/ws/stats", h.requireRole(policy.RoleAdmin), ws.GetStats)
}

// identity 认证中间件写入的调用者
func identity(c *gin.Context) emergency.Identity {
	return emergency.Identity{
		UserID: c.GetString(constant.UserField),
		Role:   policy.ParseRole(c.GetString(constant.RoleField)),
	}
}
