package notification

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// InternalNotification 站内信
type InternalNotification struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"size:64;index"`
	Event     string    `json:"event" gorm:"size:64"`
	Title     string    `json:"title" gorm:"size:200"`
	Content   string    `json:"content" gorm:"size:2000"`
	Data      string    `json:"data,omitempty" gorm:"type:text"`
	Read      bool      `json:"read" gorm:"column:is_read;index"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory 按角色解析收件人
type Directory interface {
	UserIDsWithRoles(ctx context.Context, roles []string) ([]string, error)
}

// Inbox 以站内信形式落库的通道
type Inbox struct {
	db  *gorm.DB
	dir Directory
}

func NewInbox(db *gorm.DB, dir Directory) *Inbox {
	return &Inbox{db: db, dir: dir}
}

func (in *Inbox) Notify(ctx context.Context, to Recipient, p Payload) error {
	userIDs := []string{to.UserID}
	if !to.IsUser() {
		ids, err := in.dir.UserIDsWithRoles(ctx, to.Roles)
		if err != nil {
			return err
		}
		userIDs = ids
	}
	if len(userIDs) == 0 {
		return nil
	}

	var data string
	if len(p.Data) > 0 {
		raw, err := json.Marshal(p.Data)
		if err != nil {
			return err
		}
		data = string(raw)
	}
	rows := make([]InternalNotification, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, InternalNotification{
			UserID:    uid,
			Event:     p.Event,
			Title:     p.Title,
			Content:   p.Content,
			Data:      data,
			CreatedAt: p.CreatedAt,
		})
	}
	return in.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ListNotifications 用户站内信，最新的在前
func ListNotifications(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool, offset, limit int) ([]InternalNotification, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if limit <= 0 {
		limit = 20
	}
	list := make([]InternalNotification, 0)
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, err
}

// UnreadCount 未读数量
func UnreadCount(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&InternalNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).Count(&n).Error
	return n, err
}

// MarkRead 标记已读，返回是否命中
func MarkRead(ctx context.Context, db *gorm.DB, userID string, id uint) (bool, error) {
	res := db.WithContext(ctx).Model(&InternalNotification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	return res.RowsAffected > 0, res.Error
}

// MarkAllRead 全部标记已读
func MarkAllRead(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).Model(&InternalNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
