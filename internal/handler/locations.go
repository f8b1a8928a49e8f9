package handlers

import (
	"SafeHaven/internal/emergency"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/geo"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleUpdateLocation(c *gin.Context) {
	var req emergency.LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.Validation("invalid location payload"))
		return
	}
	p, err := h.coord.UpdateLocation(c.Request.Context(), identity(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location updated", p)
}

func (h *Handlers) handleLocationHistory(c *gin.Context) {
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	points, err := h.coord.LocationHistory(c.Request.Context(), identity(c), from, to, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location history", points)
}

func (h *Handlers) handleStartSharing(c *gin.Context) {
	var req struct {
		DurationMinutes *int `json:"durationMinutes"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	st, err := h.coord.StartSharing(c.Request.Context(), identity(c), req.DurationMinutes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location sharing started", st)
}

func (h *Handlers) handleStopSharing(c *gin.Context) {
	st, err := h.coord.StopSharing(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location sharing stopped", st)
}

func (h *Handlers) handleShareStatus(c *gin.Context) {
	st, err := h.coord.ShareStatus(c.Request.Context(), identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location sharing status", st)
}

func (h *Handlers) handleSharedLocation(c *gin.Context) {
	loc, err := h.coord.SharedLocation(c.Request.Context(), identity(c), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "shared location", loc)
}

// handleRiders 带 lat/lng 时按距离查询附近用户，否则返回活跃用户地图
func (h *Handlers) handleRiders(c *gin.Context) {
	lat, hasLat, ok := queryFloat(c, "lat")
	if !ok {
		return
	}
	lng, hasLng, ok := queryFloat(c, "lng")
	if !ok {
		return
	}
	radius, _, ok := queryFloat(c, "radius")
	if !ok {
		return
	}
	if hasLat != hasLng {
		response.Error(c, errors.Validation("lat and lng must be provided together"))
		return
	}

	ctx, id := c.Request.Context(), identity(c)
	if !hasLat {
		users, err := h.coord.ActiveUsers(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, "active users", users)
		return
	}
	users, err := h.coord.NearbyUsers(ctx, id, emergency.NearbyQuery{
		Center:       geo.Point{Lat: lat, Lng: lng},
		RadiusMeters: radius,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "nearby users", users)
}
