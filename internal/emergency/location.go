package emergency

import (
	"context"
	"math"
	"time"

	"SafeHaven/internal/models"
	"SafeHaven/internal/policy"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/geo"
)

// LocationRequest 位置上报请求
type LocationRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	Altitude   *float64   `json:"altitude"`
	Speed      *float64   `json:"speed"`
	Heading    *float64   `json:"heading"`
	RecordedAt *time.Time `json:"recordedAt"`
}

func validateLocation(req LocationRequest) error {
	if req.Latitude == nil {
		return errors.Validation("latitude is required").WithContext("field", "latitude")
	}
	if req.Longitude == nil {
		return errors.Validation("longitude is required").WithContext("field", "longitude")
	}
	if err := geo.ValidateCoordinate(*req.Latitude, *req.Longitude); err != nil {
		return err
	}
	if req.Accuracy != nil && (*req.Accuracy < 0 || math.IsNaN(*req.Accuracy)) {
		return errors.Validation("accuracy must not be negative").WithContext("field", "accuracy")
	}
	if req.Speed != nil && (*req.Speed < 0 || math.IsNaN(*req.Speed)) {
		return errors.Validation("speed must not be negative").WithContext("field", "speed")
	}
	if req.Heading != nil && (*req.Heading < 0 || *req.Heading >= 360 || math.IsNaN(*req.Heading)) {
		return errors.Validation("heading must be within [0, 360)").WithContext("field", "heading")
	}
	return nil
}

// UpdateLocation 追加历史点并更新最后已知位置，与是否共享无关
func (c *Coordinator) UpdateLocation(ctx context.Context, id Identity, req LocationRequest) (*models.LocationPoint, error) {
	if err := authenticated(id); err != nil {
		return nil, err
	}
	if err := validateLocation(req); err != nil {
		return nil, err
	}
	in := models.LocationInput{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Altitude:  req.Altitude,
		Speed:     req.Speed,
		Heading:   req.Heading,
	}
	if req.RecordedAt != nil {
		in.RecordedAt = *req.RecordedAt
	}
	p, err := c.share.RecordLocation(ctx, id.UserID, in)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordLocationUpdate()
	return p, nil
}

// StartSharing 时长超出范围时截断而不是报错
func (c *Coordinator) StartSharing(ctx context.Context, id Identity, durationMinutes *int) (*models.ShareStatus, error) {
	if err := authenticated(id); err != nil {
		return nil, err
	}
	return c.share.StartSharing(ctx, id.UserID, durationMinutes)
}

// StopSharing 幂等
func (c *Coordinator) StopSharing(ctx context.Context, id Identity) (*models.ShareStatus, error) {
	if err := authenticated(id); err != nil {
		return nil, err
	}
	return c.share.StopSharing(ctx, id.UserID)
}

func (c *Coordinator) ShareStatus(ctx context.Context, id Identity) (*models.ShareStatus, error) {
	if err := authenticated(id); err != nil {
		return nil, err
	}
	return c.share.Status(ctx, id.UserID)
}

// SharedLocation 查看自己或他人正在共享的位置；未共享时返回 NotSharing
func (c *Coordinator) SharedLocation(ctx context.Context, id Identity, targetUserID string) (*models.UserLocation, error) {
	if targetUserID == "" || targetUserID == id.UserID {
		if err := authenticated(id); err != nil {
			return nil, err
		}
		targetUserID = id.UserID
	} else if err := authorize(id, policy.ViewOthersLocation); err != nil {
		return nil, err
	}
	return c.share.SharedLocation(ctx, targetUserID)
}

// LocationHistory 仅限本人
func (c *Coordinator) LocationHistory(ctx context.Context, id Identity, from, to time.Time, limit int) ([]models.LocationPoint, error) {
	if err := authenticated(id); err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, errors.Validation("to must not be before from")
	}
	return c.share.History(ctx, id.UserID, from, to, c.clampLimit(limit))
}

// NearbyQuery 附近用户查询，RadiusMeters 为 0 时使用默认半径
type NearbyQuery struct {
	Center       geo.Point
	RadiusMeters float64
}

// NearbyUsers 按距离由近到远；volunteer 半径受限且只能看到正在共享的用户
func (c *Coordinator) NearbyUsers(ctx context.Context, id Identity, q NearbyQuery) ([]models.UserPosition, error) {
	if err := authorize(id, policy.ViewOthersLocation); err != nil {
		return nil, err
	}
	if err := geo.ValidateCoordinate(q.Center.Lat, q.Center.Lng); err != nil {
		return nil, err
	}
	if q.RadiusMeters < 0 || math.IsNaN(q.RadiusMeters) {
		return nil, errors.Validation("radius must not be negative").WithContext("field", "radius")
	}
	radius := q.RadiusMeters
	if radius == 0 {
		radius = c.opts.DefaultRadiusMeters
	}
	radius = policy.ClampRadius(id.Role, radius, c.opts.VolunteerMaxRadius)

	visible, err := c.visibleUsers(ctx, id)
	if err != nil {
		return nil, err
	}
	nearby := geo.NearestFirst(q.Center, geo.Within(radius, q.Center, visible))
	for i := range nearby {
		nearby[i].DistanceMeters = geo.Distance(q.Center, nearby[i].Coordinate())
	}
	return nearby, nil
}

// ActiveUsers 活跃用户地图
func (c *Coordinator) ActiveUsers(ctx context.Context, id Identity) ([]models.UserPosition, error) {
	if err := authorize(id, policy.ViewActiveUsersMap); err != nil {
		return nil, err
	}
	return c.visibleUsers(ctx, id)
}

// visibleUsers 时间窗口内上报过位置的用户，不含调用者本人
func (c *Coordinator) visibleUsers(ctx context.Context, id Identity) ([]models.UserPosition, error) {
	since := c.share.Now().Add(-c.opts.ActiveUserWindow)
	latest, err := c.share.LatestSince(ctx, since)
	if err != nil {
		return nil, err
	}
	seesAll := policy.SeesAllUsers(id.Role)
	out := make([]models.UserPosition, 0, len(latest))
	for _, p := range latest {
		if p.UserID == id.UserID {
			continue
		}
		if !seesAll && !p.Sharing {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
