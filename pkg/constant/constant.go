package constant

// gin context keys
const (
	UserField = "user_id"
	RoleField = "user_role"
)

// 通知事件类型
const (
	EventSosTriggered = "sos.triggered"
	EventSosCancelled = "sos.cancelled"
	EventSosResolved  = "sos.resolved"
)

// 缓存键
const (
	CacheKeySosStats = "sos:stats"
)
