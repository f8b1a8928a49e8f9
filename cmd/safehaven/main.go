package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	handlers "SafeHaven/internal/handler"
	"SafeHaven/internal/emergency"
	"SafeHaven/internal/listeners"
	"SafeHaven/internal/models"
	"SafeHaven/pkg/cache"
	"SafeHaven/pkg/config"
	"SafeHaven/pkg/lock"
	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/metrics"
	"SafeHaven/pkg/middleware"
	"SafeHaven/pkg/notification"
	"SafeHaven/pkg/scheduler"
	"SafeHaven/pkg/util"
	"SafeHaven/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	em := cfg.Emergency
	m := metrics.New()

	// 数据库
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, cfg.Mode == "debug")
	if err != nil {
		return err
	}
	if err := models.Migrate(db, &notification.InternalNotification{}); err != nil {
		return err
	}
	if err := metrics.InstrumentDB(db, m); err != nil {
		return err
	}

	// 缓存与锁
	var redisClient *redis.Client
	useRedis := strings.EqualFold(cfg.Cache.Type, "redis") || strings.EqualFold(em.LockDriver, "redis")
	if useRedis {
		redisClient = cache.NewRedisClient(cfg.Cache.Redis)
		defer redisClient.Close()
	}
	statsCache, err := cache.NewCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer statsCache.Close()

	var locker lock.Locker = lock.NewKeyedMutex()
	if strings.EqualFold(em.LockDriver, "redis") {
		locker = lock.NewRedisLocker(redisClient, em.LockTTL)
	}
	storeOpts := []models.StoreOption{models.WithTimeout(em.StoreTimeout), models.WithLocker(locker)}
	sosStore := models.NewSosStore(db, em.StatsWindows, storeOpts...)
	shareStore := models.NewShareStore(db, em.ShareDefaultMinutes, em.ShareMaxMinutes, storeOpts...)
	users := models.NewUserDirectory(db)

	// 实时推送
	wsCfg := websocket.LoadConfigFromEnv()
	if err := websocket.ValidateConfig(wsCfg); err != nil {
		return err
	}
	hub := websocket.NewHub(wsCfg)
	defer hub.Close()
	m.RegisterGaugeFunc("websocket_connections", "Open websocket connections.", func() float64 {
		return float64(hub.GetConnectionCount())
	})

	// 通知通道
	gateways := notification.Multi{notification.NewInbox(db, users)}
	if em.WebsocketPushEnabled {
		gateways = append(gateways, notification.NewRealtime(hub))
	}
	if em.JPushEnabled {
		jcfg := notification.JPushConfig{AppKey: em.JPushAppKey, MasterSecret: em.JPushMasterSecret}
		gateways = append(gateways, notification.NewJPush(jcfg, notification.NewHTTPJPushClient(jcfg, "")))
	}
	dispatcher := notification.NewDispatcher(gateways, notification.DispatcherConfig{
		Workers:   em.NotifyWorkers,
		QueueSize: em.NotifyQueueSize,
		Timeout:   em.NotifyTimeout,
	}, m)
	defer dispatcher.Close()

	coord := emergency.New(sosStore, shareStore, emergency.OptionsFromConfig(em),
		emergency.WithSignals(util.Sig()),
		emergency.WithCache(statsCache),
		emergency.WithMetrics(m),
	)
	listeners.InitSosListeners(coord.Signals(), dispatcher)

	// 定时任务
	crons := scheduler.NewCron(time.UTC)
	if err := listeners.InitRetention(crons, shareStore, em.RetentionSchedule, em.LocationRetention); err != nil {
		return err
	}
	crons.Start()
	defer crons.Stop()

	tasks := scheduler.New()
	defer tasks.Stop()
	tasks.Every(30*time.Second, scheduler.FuncJob(func(ctx context.Context) {
		snap, err := metrics.CollectSystem(ctx)
		if err != nil {
			logger.Debug("collect system snapshot failed", zap.Error(err))
			return
		}
		m.SetSystemUsage(snap)
	}))

	// HTTP
	auth := middleware.NewAuthenticator(cfg.JWTSecret).WithIdentityHook(users.Touch, time.Minute)
	var limiterStore limiter.Store
	if redisClient != nil {
		if limiterStore, err = middleware.NewRedisStore(redisClient); err != nil {
			return err
		}
	}
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		PerRouteRates: map[string]string{cfg.APIPrefix + "/locations/update": em.LocationUpdateRate},
		AddHeaders:    true,
	}, limiterStore).WithObserver(m)

	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery(), logger.GinLogger(), metrics.Middleware(m))
	handlers.NewHandlers(handlers.Deps{
		DB:          db,
		Coordinator: coord,
		Auth:        auth,
		Limiter:     rl,
		Hub:         hub,
		Metrics:     m,
		APIPrefix:   cfg.APIPrefix,
	}).Register(engine)

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("safehaven listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
