package handlers

import (
	"SafeHaven/internal/emergency"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleTriggerSos(c *gin.Context) {
	var req emergency.TriggerRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	alert, err := h.coord.TriggerSos(c.Request.Context(), identity(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "sos triggered", alert)
}

func (h *Handlers) handleCancelSos(c *gin.Context) {
	alert, err := h.coord.CancelSos(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "sos cancelled", alert)
}

func (h *Handlers) handleSosStatus(c *gin.Context) {
	alert, err := h.coord.GetSosStatus(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "sos status", gin.H{"active": alert != nil, "alert": alert})
}

func (h *Handlers) handleSosHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	alerts, err := h.coord.SosHistory(c.Request.Context(), identity(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "sos history", alerts)
}

func (h *Handlers) handleListActiveSos(c *gin.Context) {
	alerts, err := h.coord.ListActiveSos(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "active sos alerts", alerts)
}

func (h *Handlers) handleSosStats(c *gin.Context) {
	stats, err := h.coord.SosStats(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "sos stats", stats)
}

func (h *Handlers) handleResolveSos(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	alert, err := h.coord.ResolveSos(c.Request.Context(), identity(c), c.Param("id"), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "sos resolved", alert)
}
