package notification

import (
	"context"
	"sync"
	"time"

	"SafeHaven/pkg/logger"

	"go.uber.org/zap"
)

// 投递结果
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Observer 投递结果回调，用于指标
type Observer interface {
	RecordNotification(event, result string)
}

type job struct {
	to Recipient
	p  Payload
}

// Dispatcher 异步投递通知；调用方不等待结果，失败只记录日志
type Dispatcher struct {
	gateway  Gateway
	queue    chan job
	timeout  time.Duration
	observer Observer

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// DispatcherConfig 工作协程与队列配置
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func NewDispatcher(gateway Gateway, cfg DispatcherConfig, observer Observer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		gateway:  gateway,
		queue:    make(chan job, cfg.QueueSize),
		timeout:  cfg.Timeout,
		observer: observer,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue 非阻塞入队；队列满或已关闭时丢弃并返回 false
func (d *Dispatcher) Enqueue(to Recipient, p Payload) bool {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.record(p.Event, ResultDropped)
		return false
	}
	select {
	case d.queue <- job{to: to, p: p}:
		return true
	default:
		logger.Warn("notification queue full, dropping",
			zap.String("event", p.Event), zap.String("user_id", to.UserID), zap.Strings("roles", to.Roles))
		d.record(p.Event, ResultDropped)
		return false
	}
}

// Notify 以 Gateway 形式暴露异步投递
func (d *Dispatcher) Notify(_ context.Context, to Recipient, p Payload) error {
	d.Enqueue(to, p)
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification gateway panicked", zap.String("event", j.p.Event), zap.Any("panic", r))
			d.record(j.p.Event, ResultFailed)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.gateway.Notify(ctx, j.to, j.p); err != nil {
		logger.Warn("notification delivery failed",
			zap.String("event", j.p.Event), zap.String("user_id", j.to.UserID),
			zap.Strings("roles", j.to.Roles), zap.Error(err))
		d.record(j.p.Event, ResultFailed)
		return
	}
	d.record(j.p.Event, ResultSent)
}

func (d *Dispatcher) record(event, result string) {
	if d.observer != nil {
		d.observer.RecordNotification(event, result)
	}
}

// Close 停止接收并等待队列中的通知投递完成
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
