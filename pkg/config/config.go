package config

import (
	"log"
	"os"
	"time"

	"SafeHaven/pkg/cache"
	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/util"
)

// EmergencyConfig SOS 与位置共享相关参数
type EmergencyConfig struct {
	SosMessageMaxLen     int           `env:"SOS_MESSAGE_MAX_LEN"`
	ShareDefaultMinutes  int           `env:"SHARE_DEFAULT_MINUTES"`
	ShareMaxMinutes      int           `env:"SHARE_MAX_MINUTES"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT_MS"`
	ActiveUserWindow     time.Duration `env:"ACTIVE_USER_WINDOW"`
	DefaultRadiusMeters  float64       `env:"DEFAULT_RADIUS_M"`
	VolunteerMaxRadius   float64       `env:"VOLUNTEER_MAX_RADIUS_M"`
	StatsWindows         []time.Duration
	StatsCacheTTL        time.Duration `env:"STATS_CACHE_TTL"`
	LocationRetention    int           `env:"LOCATION_RETENTION_DAYS"`
	RetentionSchedule    string        `env:"RETENTION_SCHEDULE"`
	LocationUpdateRate   string        `env:"LOCATION_RATE"`
	HistoryDefaultLimit  int           `env:"HISTORY_DEFAULT_LIMIT"`
	NotifyWorkers        int           `env:"NOTIFY_WORKERS"`
	NotifyQueueSize      int           `env:"NOTIFY_QUEUE_SIZE"`
	NotifyTimeout        time.Duration `env:"NOTIFY_TIMEOUT"`
	LockDriver           string        `env:"LOCK_DRIVER"`
	LockTTL              time.Duration `env:"LOCK_TTL"`
	JPushEnabled         bool          `env:"JPUSH_ENABLED"`
	JPushAppKey          string        `env:"JPUSH_APP_KEY"`
	JPushMasterSecret    string        `env:"JPUSH_MASTER_SECRET"`
	WebsocketPushEnabled bool          `env:"WS_PUSH_ENABLED"`
}

type Config struct {
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig
	Cache     cache.Config
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	JWTSecret string `env:"JWT_SECRET"`
	Emergency EmergencyConfig
}

var GlobalConfig *Config

// Default 默认配置，未设置的环境变量以此为准
func Default() *Config {
	return &Config{
		DBDriver:  "sqlite",
		DSN:       "file:safehaven.db",
		Addr:      ":8080",
		Mode:      "debug",
		APIPrefix: "/api",
		Cache: cache.Config{
			Type: "gocache",
			Local: cache.LocalConfig{
				DefaultExpiration: 5 * time.Minute,
				CleanupInterval:   10 * time.Minute,
			},
			Redis: cache.RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Emergency: DefaultEmergency(),
	}
}

func DefaultEmergency() EmergencyConfig {
	return EmergencyConfig{
		SosMessageMaxLen:     500,
		ShareDefaultMinutes:  60,
		ShareMaxMinutes:      480,
		StoreTimeout:         3 * time.Second,
		ActiveUserWindow:     15 * time.Minute,
		DefaultRadiusMeters:  2000,
		VolunteerMaxRadius:   5000,
		StatsWindows:         []time.Duration{24 * time.Hour, 7 * 24 * time.Hour},
		StatsCacheTTL:        30 * time.Second,
		LocationRetention:    30,
		RetentionSchedule:    "@daily",
		LocationUpdateRate:   "60-M",
		HistoryDefaultLimit:  50,
		NotifyWorkers:        4,
		NotifyQueueSize:      256,
		NotifyTimeout:        5 * time.Second,
		LockDriver:           "local",
		LockTTL:              10 * time.Second,
		WebsocketPushEnabled: true,
	}
}

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	def := Default()
	em := def.Emergency
	cfg := &Config{
		DBDriver:  util.GetEnvOr("DB_DRIVER", def.DBDriver),
		DSN:       util.GetEnvOr("DSN", def.DSN),
		Addr:      util.GetEnvOr("ADDR", def.Addr),
		Mode:      util.GetEnvOr("MODE", def.Mode),
		APIPrefix: util.GetEnvOr("API_PREFIX", def.APIPrefix),
		JWTSecret: util.GetEnv("JWT_SECRET"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnvOr("LOG_MAX_SIZE", 100)),
			MaxAge:     int(util.GetIntEnvOr("LOG_MAX_AGE", 7)),
			MaxBackups: int(util.GetIntEnvOr("LOG_MAX_BACKUPS", 5)),
		},
		Cache: def.Cache,
		Emergency: EmergencyConfig{
			SosMessageMaxLen:     int(util.GetIntEnvOr("SOS_MESSAGE_MAX_LEN", int64(em.SosMessageMaxLen))),
			ShareDefaultMinutes:  int(util.GetIntEnvOr("SHARE_DEFAULT_MINUTES", int64(em.ShareDefaultMinutes))),
			ShareMaxMinutes:      int(util.GetIntEnvOr("SHARE_MAX_MINUTES", int64(em.ShareMaxMinutes))),
			StoreTimeout:         time.Duration(util.GetIntEnvOr("STORE_TIMEOUT_MS", em.StoreTimeout.Milliseconds())) * time.Millisecond,
			ActiveUserWindow:     util.GetDurationEnvOr("ACTIVE_USER_WINDOW", em.ActiveUserWindow),
			DefaultRadiusMeters:  util.GetFloatEnvOr("DEFAULT_RADIUS_M", em.DefaultRadiusMeters),
			VolunteerMaxRadius:   util.GetFloatEnvOr("VOLUNTEER_MAX_RADIUS_M", em.VolunteerMaxRadius),
			StatsWindows:         parseWindows(util.GetListEnv("SOS_STATS_WINDOWS"), em.StatsWindows),
			StatsCacheTTL:        util.GetDurationEnvOr("STATS_CACHE_TTL", em.StatsCacheTTL),
			LocationRetention:    int(util.GetIntEnvOr("LOCATION_RETENTION_DAYS", int64(em.LocationRetention))),
			RetentionSchedule:    util.GetEnvOr("RETENTION_SCHEDULE", em.RetentionSchedule),
			LocationUpdateRate:   util.GetEnvOr("LOCATION_RATE", em.LocationUpdateRate),
			HistoryDefaultLimit:  int(util.GetIntEnvOr("HISTORY_DEFAULT_LIMIT", int64(em.HistoryDefaultLimit))),
			NotifyWorkers:        int(util.GetIntEnvOr("NOTIFY_WORKERS", int64(em.NotifyWorkers))),
			NotifyQueueSize:      int(util.GetIntEnvOr("NOTIFY_QUEUE_SIZE", int64(em.NotifyQueueSize))),
			NotifyTimeout:        util.GetDurationEnvOr("NOTIFY_TIMEOUT", em.NotifyTimeout),
			LockDriver:           util.GetEnvOr("LOCK_DRIVER", em.LockDriver),
			LockTTL:              util.GetDurationEnvOr("LOCK_TTL", em.LockTTL),
			JPushEnabled:         util.GetBoolEnv("JPUSH_ENABLED"),
			JPushAppKey:          util.GetEnv("JPUSH_APP_KEY"),
			JPushMasterSecret:    util.GetEnv("JPUSH_MASTER_SECRET"),
			WebsocketPushEnabled: util.GetEnv("WS_PUSH_ENABLED") == "" || util.GetBoolEnv("WS_PUSH_ENABLED"),
		},
	}
	cfg.Cache.Type = util.GetEnvOr("CACHE_TYPE", def.Cache.Type)
	cfg.Cache.Redis.Addr = util.GetEnvOr("REDIS_ADDR", def.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = util.GetEnv("REDIS_PASSWORD")
	cfg.Cache.Redis.DB = int(util.GetIntEnv("REDIS_DB"))

	GlobalConfig = cfg
	return nil
}

func parseWindows(raw []string, def []time.Duration) []time.Duration {
	var out []time.Duration
	for _, r := range raw {
		if d, err := time.ParseDuration(r); err == nil && d > 0 {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
