package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safehaven"

// 通知投递结果
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Metrics 指标管理器，所有方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	// 缓存指标
	cacheRequests *prometheus.CounterVec

	// 业务指标
	sosTransitions *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	locationWrites prometheus.Counter

	// 系统指标
	systemMemoryUsage *prometheus.GaugeVec
	systemCPUUsage    prometheus.Gauge
}

// New 创建指标管理器，使用独立的 Registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		dbQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "table", "status"}),

		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result",
		}, []string{"key", "result"}),

		sosTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_transitions_total",
			Help:      "SOS alert lifecycle transitions",
		}, []string{"transition"}),

		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by event and result",
		}, []string{"event", "result"}),

		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		}, []string{"route", "result"}),

		locationWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Accepted location updates",
		}),

		systemMemoryUsage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_memory_bytes",
			Help:      "Host memory in bytes",
		}, []string{"type"}),

		systemCPUUsage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_cpu_usage_percent",
			Help:      "Host CPU usage percentage",
		}),
	}
}

// Registry 底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler Prometheus 抓取端点
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGaugeFunc 注册回调式仪表盘，如 WebSocket 连接数
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery 记录数据库查询指标
func (m *Metrics) RecordDBQuery(operation, table string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table, status).Observe(duration.Seconds())
}

// RecordCache 记录缓存命中或未命中
func (m *Metrics) RecordCache(key string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(key, result).Inc()
}

// RecordSosTransition 记录 SOS 状态变化：triggered、cancelled、resolved
func (m *Metrics) RecordSosTransition(transition string) {
	if m == nil {
		return
	}
	m.sosTransitions.WithLabelValues(transition).Inc()
}

// RecordNotification 记录通知投递结果
func (m *Metrics) RecordNotification(event, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, result).Inc()
}

// RecordRateLimit 记录限流判定
func (m *Metrics) RecordRateLimit(route string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.rateLimited.WithLabelValues(route, result).Inc()
}

// RecordLocationUpdate 记录位置上报
func (m *Metrics) RecordLocationUpdate() {
	if m == nil {
		return
	}
	m.locationWrites.Inc()
}

// SetSystemUsage 根据系统快照更新主机指标
func (m *Metrics) SetSystemUsage(s SystemSnapshot) {
	if m == nil {
		return
	}
	m.systemMemoryUsage.WithLabelValues("total").Set(float64(s.MemoryTotal))
	m.systemMemoryUsage.WithLabelValues("used").Set(float64(s.MemoryUsed))
	m.systemCPUUsage.Set(s.CPUPercent)
}
