package handlers

import (
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/notification"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

func (h *Handlers) handleListNotifications(c *gin.Context) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return
	}
	unreadOnly := cast.ToBool(c.Query("unread"))
	list, err := notification.ListNotifications(c.Request.Context(), h.db, identity(c).UserID, unreadOnly, offset, limit)
	if err != nil {
		response.Error(c, errors.Transient(err, "list notifications failed"))
		return
	}
	response.Success(c, "notifications", list)
}

func (h *Handlers) handleUnReadNotificationCount(c *gin.Context) {
	n, err := notification.UnreadCount(c.Request.Context(), h.db, identity(c).UserID)
	if err != nil {
		response.Error(c, errors.Transient(err, "count notifications failed"))
		return
	}
	response.Success(c, "unread count", gin.H{"count": n})
}

func (h *Handlers) handleMarkNotificationAsRead(c *gin.Context) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil {
		response.Error(c, errors.Validation("invalid notification id"))
		return
	}
	hit, err := notification.MarkRead(c.Request.Context(), h.db, identity(c).UserID, id)
	if err != nil {
		response.Error(c, errors.Transient(err, "mark notification failed"))
		return
	}
	if !hit {
		response.Error(c, errors.NotFound("notification not found"))
		return
	}
	response.Success(c, "notification marked as read", nil)
}

func (h *Handlers) handleAllNotifications(c *gin.Context) {
	n, err := notification.MarkAllRead(c.Request.Context(), h.db, identity(c).UserID)
	if err != nil {
		response.Error(c, errors.Transient(err, "mark notifications failed"))
		return
	}
	response.Success(c, "all notifications marked as read", gin.H{"updated": n})
}
