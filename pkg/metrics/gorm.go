package metrics

import (
	"time"

	"gorm.io/gorm"
)

const startKey = "metrics:start"

// InstrumentDB 为 gorm 注册回调，记录每类语句的耗时
func InstrumentDB(db *gorm.DB, m *Metrics) error {
	if m == nil {
		return nil
	}
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startKey, time.Now())
	}
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(startKey)
			if !ok {
				return
			}
			start, ok := v.(time.Time)
			if !ok {
				return
			}
			failed := tx.Error != nil && tx.Error != gorm.ErrRecordNotFound
			m.RecordDBQuery(op, tx.Statement.Table, failed, time.Since(start))
		}
	}

	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(string) error
		after  func(string) error
	}{
		{"create",
			func(n string) error { return cb.Create().Before("gorm:create").Register(n, before) },
			func(n string) error { return cb.Create().After("gorm:create").Register(n, after("create")) }},
		{"query",
			func(n string) error { return cb.Query().Before("gorm:query").Register(n, before) },
			func(n string) error { return cb.Query().After("gorm:query").Register(n, after("query")) }},
		{"update",
			func(n string) error { return cb.Update().Before("gorm:update").Register(n, before) },
			func(n string) error { return cb.Update().After("gorm:update").Register(n, after("update")) }},
		{"delete",
			func(n string) error { return cb.Delete().Before("gorm:delete").Register(n, before) },
			func(n string) error { return cb.Delete().After("gorm:delete").Register(n, after("delete")) }},
		{"row",
			func(n string) error { return cb.Row().Before("gorm:row").Register(n, before) },
			func(n string) error { return cb.Row().After("gorm:row").Register(n, after("row")) }},
		{"raw",
			func(n string) error { return cb.Raw().Before("gorm:raw").Register(n, before) },
			func(n string) error { return cb.Raw().After("gorm:raw").Register(n, after("raw")) }},
	}
	for _, h := range hooks {
		if err := h.before("metrics:before_" + h.op); err != nil {
			return err
		}
		if err := h.after("metrics:after_" + h.op); err != nil {
			return err
		}
	}
	return nil
}
