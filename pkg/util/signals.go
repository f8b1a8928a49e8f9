package util

import (
	"sync"

	"SafeHaven/pkg/logger"

	"go.uber.org/zap"
)

// SigHandler 事件处理函数；sender 为事件主体
type SigHandler func(sender any, params ...any)

// Signals 进程内同步事件分发
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]SigHandler
}

func NewSignals() *Signals {
	return &Signals{handlers: make(map[string][]SigHandler)}
}

var defaultSignals = NewSignals()

// Sig 全局事件总线
func Sig() *Signals { return defaultSignals }

// Connect 注册事件处理函数
func (s *Signals) Connect(event string, h SigHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// Emit 依次调用处理函数；单个处理函数 panic 不影响其余处理函数与调用方
func (s *Signals) Emit(event string, sender any, params ...any) {
	s.mu.RLock()
	hs := append([]SigHandler(nil), s.handlers[event]...)
	s.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("signal handler panicked", zap.String("event", event), zap.Any("panic", r))
				}
			}()
			h(sender, params...)
		}()
	}
}

// Handlers 已注册处理函数数量
func (s *Signals) Handlers(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[event])
}
