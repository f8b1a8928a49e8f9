package models

import (
	"context"
	stderrors "errors"
	"time"

	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/geo"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LocationShareSession 位置共享会话，每个用户只保留一行，开始新的共享时整体替换
type LocationShareSession struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	UserID          string     `json:"userId" gorm:"size:64;not null;uniqueIndex"`
	StartedAt       time.Time  `json:"startedAt" gorm:"not null"`
	ExpiresAt       time.Time  `json:"expiresAt" gorm:"not null;index"`
	StoppedAt       *time.Time `json:"stoppedAt,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ActiveAt 过期是惰性判断的，不依赖后台清理
func (s *LocationShareSession) ActiveAt(now time.Time) bool {
	return s.StoppedAt == nil && now.Before(s.ExpiresAt)
}

// LocationPoint 位置历史，只追加
type LocationPoint struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     string    `json:"userId" gorm:"size:64;not null;index:idx_location_points_user_time,priority:1"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recordedAt" gorm:"not null;index;index:idx_location_points_user_time,priority:2"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (p LocationPoint) Coordinate() geo.Point { return geo.Point{Lat: p.Latitude, Lng: p.Longitude} }

// UserLocation 用户最后已知位置，与是否共享无关
type UserLocation struct {
	UserID     string    `json:"userId" gorm:"primaryKey;size:64"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recordedAt" gorm:"not null;index"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (l UserLocation) Coordinate() geo.Point { return geo.Point{Lat: l.Latitude, Lng: l.Longitude} }

// LocationInput 位置上报
type LocationInput struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Altitude   *float64
	Speed      *float64
	Heading    *float64
	RecordedAt time.Time
}

// ShareStatus 查询时计算的共享状态
type ShareStatus struct {
	Sharing          bool                  `json:"isSharing"`
	Session          *LocationShareSession `json:"session,omitempty"`
	RemainingSeconds int64                 `json:"remainingSeconds"`
}

// UserPosition 地图上的一个用户
type UserPosition struct {
	UserLocation
	Sharing        bool    `json:"isSharing"`
	DistanceMeters float64 `json:"distanceMeters,omitempty"`
}

// ShareStore 位置共享与位置历史存储
type ShareStore struct {
	storeBase
	defaultMinutes int
	maxMinutes     int
}

// NewShareStore defaultMinutes 为未指定时长时的默认值，maxMinutes 为上限
func NewShareStore(db *gorm.DB, defaultMinutes, maxMinutes int, opts ...StoreOption) *ShareStore {
	if maxMinutes < 1 {
		maxMinutes = 480
	}
	if defaultMinutes < 1 {
		defaultMinutes = 60
	}
	return &ShareStore{
		storeBase:      newStoreBase(db, opts),
		defaultMinutes: defaultMinutes,
		maxMinutes:     maxMinutes,
	}
}

// ClampMinutes 把请求时长限制在 [1, max]；nil 使用默认值
func (s *ShareStore) ClampMinutes(requested *int) int {
	m := s.defaultMinutes
	if requested != nil {
		m = *requested
	}
	if m < 1 {
		m = 1
	}
	if m > s.maxMinutes {
		m = s.maxMinutes
	}
	return m
}

func (s *ShareStore) statusOf(sess *LocationShareSession) *ShareStatus {
	if sess == nil {
		return &ShareStatus{}
	}
	now := s.clock()
	st := &ShareStatus{Sharing: sess.ActiveAt(now), Session: sess}
	if st.Sharing {
		st.RemainingSeconds = int64(sess.ExpiresAt.Sub(now) / time.Second)
	}
	return st
}

func shareLockKey(userID string) string { return "share:" + userID }

func locationLockKey(userID string) string { return "location:" + userID }

// StartSharing 开始共享，替换已有会话（新的 ID 与过期时间）
func (s *ShareStore) StartSharing(ctx context.Context, userID string, durationMinutes *int) (*ShareStatus, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	minutes := s.ClampMinutes(durationMinutes)
	var sess *LocationShareSession
	err := s.withUserLock(ctx, shareLockKey(userID), func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", userID).Delete(&LocationShareSession{}).Error; err != nil {
				return err
			}
			now := s.clock()
			sess = &LocationShareSession{
				ID:              uuid.NewString(),
				UserID:          userID,
				StartedAt:       now,
				ExpiresAt:       now.Add(time.Duration(minutes) * time.Minute),
				DurationMinutes: minutes,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			return tx.Create(sess).Error
		})
	})
	if err != nil {
		return nil, classify(err, "share.start")
	}
	return s.statusOf(sess), nil
}

// StopSharing 立即停止共享；没有会话或已停止时不报错
func (s *ShareStore) StopSharing(ctx context.Context, userID string) (*ShareStatus, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	var sess *LocationShareSession
	err := s.withUserLock(ctx, shareLockKey(userID), func() error {
		now := s.clock()
		if err := db.Model(&LocationShareSession{}).
			Where("user_id = ? AND stopped_at IS NULL", userID).
			Updates(map[string]interface{}{"stopped_at": now, "updated_at": now}).Error; err != nil {
			return err
		}
		var err error
		sess, err = s.findSession(db, userID)
		return err
	})
	if err != nil {
		return nil, classify(err, "share.stop")
	}
	return s.statusOf(sess), nil
}

func (s *ShareStore) findSession(db *gorm.DB, userID string) (*LocationShareSession, error) {
	var sess LocationShareSession
	err := db.Where("user_id = ?", userID).First(&sess).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Status 当前共享状态
func (s *ShareStore) Status(ctx context.Context, userID string) (*ShareStatus, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	sess, err := s.findSession(db, userID)
	if err != nil {
		return nil, classify(err, "share.status")
	}
	return s.statusOf(sess), nil
}

// SharedLocation 仅在共享有效期内返回最后已知位置
func (s *ShareStore) SharedLocation(ctx context.Context, userID string) (*UserLocation, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	sess, err := s.findSession(db, userID)
	if err != nil {
		return nil, classify(err, "share.location")
	}
	if sess == nil || !sess.ActiveAt(s.clock()) {
		return nil, errors.NotSharing("user is not sharing their location").WithContext("user_id", userID)
	}

	var loc UserLocation
	err = db.Where("user_id = ?", userID).First(&loc).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("no location recorded for user").WithContext("user_id", userID)
	}
	if err != nil {
		return nil, classify(err, "share.location")
	}
	return &loc, nil
}

// RecordLocation 追加历史点并更新最后已知位置；乱序到达的旧点不会回退最后位置
func (s *ShareStore) RecordLocation(ctx context.Context, userID string, in LocationInput) (*LocationPoint, error) {
	ctx, db, cancel := s.begin(ctx)
	defer cancel()

	now := s.clock()
	recordedAt := in.RecordedAt.UTC()
	if in.RecordedAt.IsZero() || recordedAt.After(now) {
		recordedAt = now
	}
	point := &LocationPoint{
		UserID:     userID,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Accuracy:   in.Accuracy,
		Altitude:   in.Altitude,
		Speed:      in.Speed,
		Heading:    in.Heading,
		RecordedAt: recordedAt,
		CreatedAt:  now,
	}

	// 读取与覆盖最后位置在同一用户临界区内
	err := s.withUserLock(ctx, locationLockKey(userID), func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(point).Error; err != nil {
				return err
			}

			var current UserLocation
			err := tx.Where("user_id = ?", userID).First(&current).Error
			if err == nil && current.RecordedAt.After(recordedAt) {
				return nil
			}
			if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			latest := UserLocation{
				UserID:     userID,
				Latitude:   in.Latitude,
				Longitude:  in.Longitude,
				Accuracy:   in.Accuracy,
				Altitude:   in.Altitude,
				Speed:      in.Speed,
				Heading:    in.Heading,
				RecordedAt: recordedAt,
				UpdatedAt:  now,
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				UpdateAll: true,
			}).Create(&latest).Error
		})
	})
	if err != nil {
		return nil, classify(err, "location.record")
	}
	return point, nil
}

// History 时间范围内的历史点，按时间升序；零值表示不限
func (s *ShareStore) History(ctx context.Context, userID string, from, to time.Time, limit int) ([]LocationPoint, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	q := db.Where("user_id = ?", userID)
	if !from.IsZero() {
		q = q.Where("recorded_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("recorded_at <= ?", to.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	points := make([]LocationPoint, 0)
	if err := q.Order("recorded_at ASC").Order("id ASC").Find(&points).Error; err != nil {
		return nil, classify(err, "location.history")
	}
	return points, nil
}

// LatestSince 在 since 之后有位置上报的用户，附带惰性计算的共享状态
func (s *ShareStore) LatestSince(ctx context.Context, since time.Time) ([]UserPosition, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	var locs []UserLocation
	if err := db.Where("recorded_at >= ?", since.UTC()).
		Order("recorded_at DESC").Order("user_id ASC").
		Find(&locs).Error; err != nil {
		return nil, classify(err, "location.latest")
	}
	if len(locs) == 0 {
		return []UserPosition{}, nil
	}

	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.UserID
	}
	var sessions []LocationShareSession
	if err := db.Where("user_id IN ?", ids).Find(&sessions).Error; err != nil {
		return nil, classify(err, "location.latest")
	}
	now := s.clock()
	sharing := make(map[string]bool, len(sessions))
	for i := range sessions {
		sharing[sessions[i].UserID] = sessions[i].ActiveAt(now)
	}

	out := make([]UserPosition, len(locs))
	for i, l := range locs {
		out[i] = UserPosition{UserLocation: l, Sharing: sharing[l.UserID]}
	}
	return out, nil
}

// PruneHistory 删除 before 之前的历史点，返回删除条数
func (s *ShareStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	_, db, cancel := s.begin(ctx)
	defer cancel()

	res := db.Where("recorded_at < ?", before.UTC()).Delete(&LocationPoint{})
	if res.Error != nil {
		return 0, classify(res.Error, "location.prune")
	}
	return res.RowsAffected, nil
}

// Now 存储使用的时钟
func (s *ShareStore) Now() time.Time { return s.clock() }
