package models

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/lock"
	"SafeHaven/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultStoreTimeout = 3 * time.Second

// storeBase 两个存储共享的连接、锁、超时与时钟
type storeBase struct {
	db      *gorm.DB
	locker  lock.Locker
	timeout time.Duration
	now     func() time.Time
}

// StoreOption 存储可选项
type StoreOption func(*storeBase)

// WithTimeout 每次存储调用的超时
func WithTimeout(d time.Duration) StoreOption {
	return func(s *storeBase) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock 注入时钟，测试中用于模拟时间流逝
func WithClock(now func() time.Time) StoreOption {
	return func(s *storeBase) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker 替换按用户加锁的实现（如 redis 锁）
func WithLocker(l lock.Locker) StoreOption {
	return func(s *storeBase) {
		if l != nil {
			s.locker = l
		}
	}
}

func newStoreBase(db *gorm.DB, opts []StoreOption) storeBase {
	s := storeBase{
		db:      db,
		locker:  lock.NewKeyedMutex(),
		timeout: defaultStoreTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *storeBase) clock() time.Time { return s.now().UTC() }

// begin 为单次存储调用派生带超时的 ctx 与 db 会话
func (s *storeBase) begin(ctx context.Context) (context.Context, *gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, s.db.WithContext(ctx), cancel
}

// withUserLock 在用户维度的临界区内执行 fn
func (s *storeBase) withUserLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return errors.Transient(err, "could not acquire lock, retry later").WithContext("key", key)
	}
	defer release()
	return fn()
}

// classify 把驱动层错误归类；已分类的错误原样返回
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind != "" {
		return err
	}
	if isUniqueViolation(err) {
		return errors.Conflict("conflicting record already exists").WithContext("op", op)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Transient(err, "storage timed out, retry later").WithContext("op", op)
	}
	logger.Warn("storage failure", zap.String("op", op), zap.Error(err))
	return errors.Transient(err, "storage unavailable, retry later").WithContext("op", op)
}

func isUniqueViolation(err error) bool {
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
