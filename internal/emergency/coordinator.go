package emergency

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"SafeHaven/internal/models"
	"SafeHaven/internal/policy"
	"SafeHaven/pkg/cache"
	"SafeHaven/pkg/config"
	"SafeHaven/pkg/constant"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/geo"
	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/metrics"
	"SafeHaven/pkg/util"

	"go.uber.org/zap"
)

// Identity 边界层解析出的调用者，核心层完全信任
type Identity struct {
	UserID string
	Role   policy.Role
}

// SosStore 警报存储
type SosStore interface {
	Trigger(ctx context.Context, userID string, in models.TriggerInput) (*models.SosAlert, error)
	Cancel(ctx context.Context, userID string) (*models.SosAlert, error)
	Resolve(ctx context.Context, alertID, responderID, notes string) (*models.SosAlert, error)
	ActiveForUser(ctx context.Context, userID string) (*models.SosAlert, error)
	ListActive(ctx context.Context) ([]models.SosAlert, error)
	History(ctx context.Context, userID string, limit int) ([]models.SosAlert, error)
	Stats(ctx context.Context) (*models.SosStats, error)
}

// ShareStore 位置共享存储
type ShareStore interface {
	StartSharing(ctx context.Context, userID string, durationMinutes *int) (*models.ShareStatus, error)
	StopSharing(ctx context.Context, userID string) (*models.ShareStatus, error)
	Status(ctx context.Context, userID string) (*models.ShareStatus, error)
	SharedLocation(ctx context.Context, userID string) (*models.UserLocation, error)
	RecordLocation(ctx context.Context, userID string, in models.LocationInput) (*models.LocationPoint, error)
	History(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.LocationPoint, error)
	LatestSince(ctx context.Context, since time.Time) ([]models.UserPosition, error)
	Now() time.Time
}

// Options 业务参数
type Options struct {
	MessageMaxLen       int
	ActiveUserWindow    time.Duration
	DefaultRadiusMeters float64
	VolunteerMaxRadius  float64
	StatsCacheTTL       time.Duration
	HistoryDefaultLimit int
}

// OptionsFromConfig 从配置生成参数
func OptionsFromConfig(cfg config.EmergencyConfig) Options {
	return Options{
		MessageMaxLen:       cfg.SosMessageMaxLen,
		ActiveUserWindow:    cfg.ActiveUserWindow,
		DefaultRadiusMeters: cfg.DefaultRadiusMeters,
		VolunteerMaxRadius:  cfg.VolunteerMaxRadius,
		StatsCacheTTL:       cfg.StatsCacheTTL,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
	}
}

type Option func(*Coordinator)

// WithSignals 状态变化事件发往 sig，通知由监听者异步投递
func WithSignals(sig *util.Signals) Option { return func(c *Coordinator) { c.sig = sig } }

// WithCache 统计结果缓存
func WithCache(ch cache.Cache) Option { return func(c *Coordinator) { c.cache = ch } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// Coordinator 先做权限校验，再做参数校验，最后委托存储层
type Coordinator struct {
	sos     SosStore
	share   ShareStore
	opts    Options
	sig     *util.Signals
	cache   cache.Cache
	metrics *metrics.Metrics
}

func New(sos SosStore, share ShareStore, opts Options, options ...Option) *Coordinator {
	if opts.MessageMaxLen <= 0 {
		opts.MessageMaxLen = 500
	}
	if opts.ActiveUserWindow <= 0 {
		opts.ActiveUserWindow = 15 * time.Minute
	}
	if opts.DefaultRadiusMeters <= 0 {
		opts.DefaultRadiusMeters = 2000
	}
	if opts.HistoryDefaultLimit <= 0 {
		opts.HistoryDefaultLimit = 50
	}
	c := &Coordinator{sos: sos, share: share, opts: opts}
	for _, o := range options {
		o(c)
	}
	if c.sig == nil {
		c.sig = util.NewSignals()
	}
	return c
}

// Signals 事件总线，供监听者注册
func (c *Coordinator) Signals() *util.Signals { return c.sig }

// authorize 未认证优先于权限判断
func authorize(id Identity, cap policy.Capability) error {
	if id.UserID == "" {
		return errors.Unauthenticated("missing identity")
	}
	return policy.Require(id.Role, cap)
}

// authenticated 无需特定能力的操作仍要求角色有效
func authenticated(id Identity) error {
	if id.UserID == "" {
		return errors.Unauthenticated("missing identity")
	}
	if !id.Role.Valid() {
		return errors.Authorization("unknown role").WithContext("role", string(id.Role))
	}
	return nil
}

func (c *Coordinator) clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return c.opts.HistoryDefaultLimit
	}
	return limit
}

// TriggerRequest 触发 SOS 的请求
type TriggerRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Message   string   `json:"message"`
}

func (c *Coordinator) validateTrigger(req TriggerRequest) error {
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return errors.Validation("latitude and longitude must be provided together")
	}
	if req.Latitude != nil {
		if err := geo.ValidateCoordinate(*req.Latitude, *req.Longitude); err != nil {
			return err
		}
	}
	if utf8.RuneCountInString(req.Message) > c.opts.MessageMaxLen {
		return errors.WithKindf(errors.KindValidation, "message exceeds %d characters", c.opts.MessageMaxLen).
			WithContext("field", "message")
	}
	return nil
}

// TriggerSos 创建警报并通知 police 与 admin；重复触发返回 Conflict
func (c *Coordinator) TriggerSos(ctx context.Context, id Identity, req TriggerRequest) (*models.SosAlert, error) {
	if err := authorize(id, policy.TriggerOwnSos); err != nil {
		return nil, err
	}
	if err := c.validateTrigger(req); err != nil {
		return nil, err
	}
	alert, err := c.sos.Trigger(ctx, id.UserID, models.TriggerInput{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Message:   req.Message,
	})
	if err != nil {
		return nil, err
	}
	c.transitioned(ctx, constant.EventSosTriggered, "triggered", alert)
	return alert, nil
}

// CancelSos 撤销自己的 active 警报
func (c *Coordinator) CancelSos(ctx context.Context, id Identity) (*models.SosAlert, error) {
	if err := authorize(id, policy.CancelOwnSos); err != nil {
		return nil, err
	}
	alert, err := c.sos.Cancel(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	c.transitioned(ctx, constant.EventSosCancelled, "cancelled", alert)
	return alert, nil
}

// GetSosStatus 没有 active 警报时返回 nil
func (c *Coordinator) GetSosStatus(ctx context.Context, id Identity) (*models.SosAlert, error) {
	if err := authorize(id, policy.ViewOwnSos); err != nil {
		return nil, err
	}
	return c.sos.ActiveForUser(ctx, id.UserID)
}

func (c *Coordinator) SosHistory(ctx context.Context, id Identity, limit int) ([]models.SosAlert, error) {
	if err := authorize(id, policy.ViewOwnSos); err != nil {
		return nil, err
	}
	return c.sos.History(ctx, id.UserID, c.clampLimit(limit))
}

// ListActiveSos 最早触发的在前
func (c *Coordinator) ListActiveSos(ctx context.Context, id Identity) ([]models.SosAlert, error) {
	if err := authorize(id, policy.ViewAllActiveSos); err != nil {
		return nil, err
	}
	return c.sos.ListActive(ctx)
}

// ResolveSos 权限在查找之前校验，无权限的调用者无法探测警报是否存在
func (c *Coordinator) ResolveSos(ctx context.Context, id Identity, alertID, notes string) (*models.SosAlert, error) {
	if err := authorize(id, policy.ResolveSos); err != nil {
		return nil, err
	}
	if alertID == "" {
		return nil, errors.Validation("alert id is required").WithContext("field", "id")
	}
	if utf8.RuneCountInString(notes) > c.opts.MessageMaxLen {
		return nil, errors.WithKindf(errors.KindValidation, "notes exceed %d characters", c.opts.MessageMaxLen).
			WithContext("field", "notes")
	}
	alert, err := c.sos.Resolve(ctx, alertID, id.UserID, notes)
	if err != nil {
		return nil, err
	}
	c.transitioned(ctx, constant.EventSosResolved, "resolved", alert)
	return alert, nil
}

// SosStats 结果缓存 StatsCacheTTL，任何状态变化都会使缓存失效
func (c *Coordinator) SosStats(ctx context.Context, id Identity) (*models.SosStats, error) {
	if err := authorize(id, policy.ViewSosStats); err != nil {
		return nil, err
	}
	if c.cache != nil && c.opts.StatsCacheTTL > 0 {
		if raw, ok := cache.GetString(ctx, c.cache, constant.CacheKeySosStats); ok {
			var stats models.SosStats
			if err := json.Unmarshal([]byte(raw), &stats); err == nil {
				c.metrics.RecordCache(constant.CacheKeySosStats, true)
				return &stats, nil
			}
		}
		c.metrics.RecordCache(constant.CacheKeySosStats, false)
	}

	stats, err := c.sos.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && c.opts.StatsCacheTTL > 0 {
		if raw, err := json.Marshal(stats); err == nil {
			if err := c.cache.Set(ctx, constant.CacheKeySosStats, string(raw), c.opts.StatsCacheTTL); err != nil {
				logger.Warn("cache sos stats failed", zap.Error(err))
			}
		}
	}
	return stats, nil
}

// transitioned 状态已提交后的副作用，均不影响调用结果
func (c *Coordinator) transitioned(ctx context.Context, event, transition string, alert *models.SosAlert) {
	c.metrics.RecordSosTransition(transition)
	if c.cache != nil {
		if err := c.cache.Delete(ctx, constant.CacheKeySosStats); err != nil {
			logger.Warn("invalidate sos stats failed", zap.Error(err))
		}
	}
	logger.Info("sos "+transition,
		zap.String("alert_id", alert.ID), zap.String("user_id", alert.UserID))
	c.sig.Emit(event, alert)
}
