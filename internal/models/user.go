package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User 由身份令牌解析出的用户及其角色快照，供按角色投递通知使用
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string    `json:"displayName,omitempty" gorm:"size:128"`
	Role        string    `json:"role" gorm:"size:16;index"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpsertUser 记录用户最近一次出现时的角色
func UpsertUser(ctx context.Context, db *gorm.DB, id, role string) error {
	now := time.Now().UTC()
	user := User{ID: id, Role: role, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "last_seen_at", "updated_at"}),
	}).Create(&user).Error
}

// GetUserByID 按 ID 查询
func GetUserByID(ctx context.Context, db *gorm.DB, id string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UserDirectory 按角色查找用户
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// UserIDsWithRoles 角色集合内的所有用户 ID
func (d *UserDirectory) UserIDsWithRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var ids []string
	err := d.db.WithContext(ctx).Model(&User{}).
		Where("role IN ?", roles).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Touch 记录身份
func (d *UserDirectory) Touch(ctx context.Context, id, role string) error {
	return UpsertUser(ctx, d.db, id, role)
}
