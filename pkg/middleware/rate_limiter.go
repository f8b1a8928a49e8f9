package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"SafeHaven/pkg/constant"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// KindRateLimited 限流拒绝
const KindRateLimited errors.Kind = "rate_limited"

// RateLimiterConfig 限流配置
//
// Rate: "60-M"；PerRouteRates 以路由模板为键，如 {"/api/locations/update": "60-M"}
// 仅对 PerRouteRates 中的路由限流时将 Rate 置空。
type RateLimiterConfig struct {
	Rate          string            `json:"rate"`
	PerRouteRates map[string]string `json:"per_route_rates"`
	SkipPaths     []string          `json:"skip_paths"`
	AddHeaders    bool              `json:"add_headers"`
}

// MetricsObserver 指标上报接口
type MetricsObserver interface {
	RecordRateLimit(route string, allowed bool)
}

// RateLimiter 按用户限流，未认证请求按 IP
type RateLimiter struct {
	cfg            RateLimiterConfig
	store          limiter.Store
	observer       MetricsObserver
	limitersByRate map[string]*limiter.Limiter
	mu             sync.RWMutex
}

// NewRateLimiter store 为空时使用内存存储
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	return &RateLimiter{
		cfg:            cfg,
		store:          store,
		limitersByRate: make(map[string]*limiter.Limiter),
	}
}

// NewRedisStore 多实例部署时共享计数
func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   "safehaven:limiter",
		MaxRetry: 3,
	})
}

// WithObserver 配置指标观察者
func (l *RateLimiter) WithObserver(observer MetricsObserver) *RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = observer
	return l
}

// Middleware 返回 Gin 中间件，需在认证之后
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		if l.skipped(route) {
			c.Next()
			return
		}
		rateStr := l.pickRate(route)
		if rateStr == "" {
			c.Next()
			return
		}

		key := limitKey(c, route)
		lctx, err := l.getLimiter(rateStr).Get(c, key)
		if err != nil {
			// 存储不可用时放行
			logger.Warn("rate limiter store failed", zap.Error(err), zap.String("route", route))
			c.Next()
			return
		}
		if l.cfg.AddHeaders {
			setStandardHeaders(c, lctx)
		}
		if lctx.Reached {
			l.report(route, false)
			retry := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retry < 0 {
				retry = 0
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Body{
				Success: false,
				Message: "too many requests",
				Error:   &response.ErrorBody{Kind: KindRateLimited, Message: "too many requests"},
			})
			return
		}
		l.report(route, true)
		c.Next()
	}
}

func (l *RateLimiter) report(route string, allowed bool) {
	l.mu.RLock()
	obs := l.observer
	l.mu.RUnlock()
	if obs != nil {
		obs.RecordRateLimit(route, allowed)
	}
}

func (l *RateLimiter) getLimiter(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		logger.Warn("invalid rate, falling back to 10-S", zap.String("rate", rateStr))
		r = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(l.store, r)
	l.limitersByRate[rateStr] = lim
	return lim
}

func (l *RateLimiter) pickRate(route string) string {
	if r, ok := l.cfg.PerRouteRates[route]; ok && r != "" {
		return r
	}
	return l.cfg.Rate
}

func (l *RateLimiter) skipped(route string) bool {
	for _, pref := range l.cfg.SkipPaths {
		if pref != "" && strings.HasPrefix(route, pref) {
			return true
		}
	}
	return false
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}

// limitKey 计数按路由隔离
func limitKey(c *gin.Context, route string) string {
	if uid := c.GetString(constant.UserField); uid != "" {
		return "user:" + uid + ":" + route
	}
	ip := strings.TrimPrefix(c.ClientIP(), "::ffff:")
	return "ip:" + ip + ":" + route
}

func setStandardHeaders(c *gin.Context, ctx limiter.Context) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
	resetSec := int(time.Until(time.Unix(ctx.Reset, 0)).Seconds())
	if resetSec < 0 {
		resetSec = 0
	}
	c.Header("X-RateLimit-Reset", strconv.Itoa(resetSec))
}
