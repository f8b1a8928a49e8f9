package models

import (
	"gorm.io/gorm"
)

// oneActiveAlertIndex 数据库层面的兜底：同一用户至多一条 active 警报
const oneActiveAlertIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_sos_alerts_one_active ON sos_alerts (user_id) WHERE status = 'active'`

// Migrate 建表；extra 为其他包的模型（如站内通知）
func Migrate(db *gorm.DB, extra ...interface{}) error {
	tables := []interface{}{
		&User{},
		&SosAlert{},
		&LocationShareSession{},
		&LocationPoint{},
		&UserLocation{},
	}
	if err := db.AutoMigrate(append(tables, extra...)...); err != nil {
		return err
	}

	// mysql 不支持部分索引，依赖按用户加锁
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		if err := db.Exec(oneActiveAlertIndex).Error; err != nil {
			return err
		}
	}
	return nil
}
