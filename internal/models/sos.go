package models

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/geo"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SosStatus string

const (
	SosStatusActive    SosStatus = "active"
	SosStatusResolved  SosStatus = "resolved"
	SosStatusCancelled SosStatus = "cancelled"
)

// SosAlert 求助警报。一个用户同一时间最多一条 active 记录；终态记录不可再变更
type SosAlert struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	UserID          string     `json:"userId" gorm:"size:64;not null;index"`
	Status          SosStatus  `json:"status" gorm:"size:16;not null;index"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	Message         string     `json:"message,omitempty" gorm:"size:2000"`
	TriggeredAt     time.Time  `json:"triggeredAt" gorm:"not null;index"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty" gorm:"size:64"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty" gorm:"size:2000"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a *SosAlert) IsActive() bool { return a.Status == SosStatusActive }

// HasLocation 坐标成对出现
func (a *SosAlert) HasLocation() bool { return a.Latitude != nil && a.Longitude != nil }

// Coordinate 无坐标时返回零值，调用前先检查 HasLocation
func (a *SosAlert) Coordinate() geo.Point {
	if a.Latitude == nil || a.Longitude == nil {
		return geo.Point{}
	}
	return geo.Point{Lat: *a.Latitude, Lng: *a.Longitude}
}

// TriggerInput 触发参数，坐标可缺省但必须同时给出
type TriggerInput struct {
	Latitude  *float64
	Longitude *float64
	Message   string
}

// StatusCounts 按状态计数
type StatusCounts struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Resolved  int64 `json:"resolved"`
	Cancelled int64 `json:"cancelled"`
}

// WindowStats 某个时间窗口内触发的警报计数
type WindowStats struct {
	Window string    `json:"window"`
	Since  time.Time `json:"since"`
	StatusCounts
}

type SosStats struct {
	StatusCounts
	Windows     []WindowStats `json:"windows"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// SosStore 警报存储，一个用户一条 active 警报的唯一裁决者
type SosStore struct {
	storeBase
	windows []time.Duration
}

// NewSosStore windows 为统计窗口，为空时使用 24h 与 7d
func NewSosStore(db *gorm.DB, windows []time.Duration, opts ...StoreOption) *SosStore {
	if len(windows) == 0 {
		windows = []time.Duration{24 * time.Hour, 7 * 24 * time.Hour}
	}
	return &SosStore{storeBase: newStoreBase(db, opts), windows: windows}
}

func sosLockKey(userID string) string { return "sos:" + userID }

// Trigger 创建 active 警报；已有 active 警报时返回 Conflict
func (s *SosStore) Trigger(ctx context.Context, userID string, in TriggerInput) (*SosAlert, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	var alert *SosAlert
	err := s.withUserLock(ctx, sosLockKey(userID), func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&SosAlert{}).
				Where("user_id = ? AND status = ?", userID, SosStatusActive).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return errors.Conflict("an active SOS alert already exists for this user").WithContext("user_id", userID)
			}

			now := s.clock()
			alert = &SosAlert{
				ID:          uuid.NewString(),
				UserID:      userID,
				Status:      SosStatusActive,
				Latitude:    in.Latitude,
				Longitude:   in.Longitude,
				Message:     in.Message,
				TriggeredAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return tx.Create(alert).Error
		})
	})
	if err != nil {
		return nil, classify(err, "sos.trigger")
	}
	return alert, nil
}

// Cancel 取消用户当前的 active 警报
func (s *SosStore) Cancel(ctx context.Context, userID string) (*SosAlert, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	var alert SosAlert
	err := s.withUserLock(ctx, sosLockKey(userID), func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			err := tx.Where("user_id = ? AND status = ?", userID, SosStatusActive).First(&alert).Error
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NotFound("no active SOS alert to cancel").WithContext("user_id", userID)
			}
			if err != nil {
				return err
			}

			now := s.clock()
			res := tx.Model(&SosAlert{}).
				Where("id = ? AND status = ?", alert.ID, SosStatusActive).
				Updates(map[string]interface{}{
					"status":       SosStatusCancelled,
					"cancelled_at": now,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// resolved concurrently by a responder
				return errors.NotFound("no active SOS alert to cancel").WithContext("user_id", userID)
			}
			alert.Status = SosStatusCancelled
			alert.CancelledAt = &now
			alert.UpdatedAt = now
			return nil
		})
	})
	if err != nil {
		return nil, classify(err, "sos.cancel")
	}
	return &alert, nil
}

// Resolve 由响应者结案；不存在返回 NotFound，已是终态返回 InvalidState
func (s *SosStore) Resolve(ctx context.Context, alertID, responderID, notes string) (*SosAlert, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	var alert SosAlert
	err := db.Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		res := tx.Model(&SosAlert{}).
			Where("id = ? AND status = ?", alertID, SosStatusActive).
			Updates(map[string]interface{}{
				"status":           SosStatusResolved,
				"resolved_at":      now,
				"resolved_by":      responderID,
				"resolution_notes": notes,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}

		err := tx.Where("id = ?", alertID).First(&alert).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("SOS alert not found").WithContext("alert_id", alertID)
		}
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return errors.InvalidState("SOS alert is already " + string(alert.Status)).
				WithContext("alert_id", alertID)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "sos.resolve")
	}
	return &alert, nil
}

// ActiveForUser 没有 active 警报时返回 nil, nil
func (s *SosStore) ActiveForUser(ctx context.Context, userID string) (*SosAlert, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	var alert SosAlert
	err := db.Where("user_id = ? AND status = ?", userID, SosStatusActive).First(&alert).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "sos.active_for_user")
	}
	return &alert, nil
}

// Get 按 ID 查询
func (s *SosStore) Get(ctx context.Context, alertID string) (*SosAlert, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	var alert SosAlert
	err := db.Where("id = ?", alertID).First(&alert).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("SOS alert not found").WithContext("alert_id", alertID)
	}
	if err != nil {
		return nil, classify(err, "sos.get")
	}
	return &alert, nil
}

// ListActive 所有 active 警报，最早触发的在前
func (s *SosStore) ListActive(ctx context.Context) ([]SosAlert, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	alerts := make([]SosAlert, 0)
	if err := db.Where("status = ?", SosStatusActive).
		Order("triggered_at ASC").Order("id ASC").
		Find(&alerts).Error; err != nil {
		return nil, classify(err, "sos.list_active")
	}
	return alerts, nil
}

// History 用户的历史警报，最新的在前
func (s *SosStore) History(ctx context.Context, userID string, limit int) ([]SosAlert, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	q := db.Where("user_id = ?", userID).Order("triggered_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	alerts := make([]SosAlert, 0)
	if err := q.Find(&alerts).Error; err != nil {
		return nil, classify(err, "sos.history")
	}
	return alerts, nil
}

type statusRow struct {
	Status SosStatus
	Count  int64
}

func (s *SosStore) countByStatus(db *gorm.DB, since *time.Time) (StatusCounts, error) {
	var rows []statusRow
	q := db.Model(&SosAlert{}).Select("status, count(*) AS count")
	if since != nil {
		q = q.Where("triggered_at >= ?", *since)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return StatusCounts{}, err
	}

	var c StatusCounts
	for _, r := range rows {
		switch r.Status {
		case SosStatusActive:
			c.Active = r.Count
		case SosStatusResolved:
			c.Resolved = r.Count
		case SosStatusCancelled:
			c.Cancelled = r.Count
		}
		c.Total += r.Count
	}
	return c, nil
}

// Stats 总体与各时间窗口的状态计数
func (s *SosStore) Stats(ctx context.Context) (*SosStats, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	now := s.clock()
	overall, err := s.countByStatus(db, nil)
	if err != nil {
		return nil, classify(err, "sos.stats")
	}
	stats := &SosStats{StatusCounts: overall, GeneratedAt: now}
	for _, w := range s.windows {
		since := now.Add(-w)
		counts, err := s.countByStatus(db, &since)
		if err != nil {
			return nil, classify(err, "sos.stats")
		}
		stats.Windows = append(stats.Windows, WindowStats{Window: windowLabel(w), Since: since, StatusCounts: counts})
	}
	return stats, nil
}

func windowLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return d.String()
}
