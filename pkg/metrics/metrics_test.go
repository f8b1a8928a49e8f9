package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func findMetric(t *testing.T, m *Metrics, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	return nil
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	metric := findMetric(t, m, name, labels)
	if metric == nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSosTransition("triggered")
		m.RecordNotification("sos.triggered", ResultSent)
		m.RecordRateLimit("/sos", true)
		m.RecordCache("sos:stats", true)
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordLocationUpdate()
		m.RegisterGaugeFunc("x", "x", func() float64 { return 1 })
	})
	assert.Nil(t, m.Registry())
}

func TestBusinessCounters(t *testing.T) {
	m := New()
	m.RecordSosTransition("triggered")
	m.RecordSosTransition("triggered")
	m.RecordSosTransition("resolved")
	m.RecordNotification("sos.triggered", ResultFailed)
	m.RecordRateLimit("/api/sos", false)
	m.RecordCache("sos:stats", false)
	m.RecordLocationUpdate()

	assert.Equal(t, 2.0, counterValue(t, m, "safehaven_sos_transitions_total", map[string]string{"transition": "triggered"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_sos_transitions_total", map[string]string{"transition": "resolved"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_notifications_total", map[string]string{"event": "sos.triggered", "result": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_rate_limit_decisions_total", map[string]string{"result": "denied"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_cache_requests_total", map[string]string{"result": "miss"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_location_updates_total", nil))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(Middleware(m))
	r.POST("/sos/:id/resolve", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/sos/a%d/resolve", i), nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 3.0, counterValue(t, m, "safehaven_http_requests_total",
		map[string]string{"path": "/sos/:id/resolve", "status": "200"}))
	assert.Equal(t, 1.0, counterValue(t, m, "safehaven_http_requests_total",
		map[string]string{"path": "unmatched", "status": "404"}))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RegisterGaugeFunc("websocket_connections", "Open websocket connections", func() float64 { return 7 })
	m.RecordSosTransition("cancelled")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "safehaven_websocket_connections 7")
	assert.Contains(t, text, `safehaven_sos_transitions_total{transition="cancelled"} 1`)
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestInstrumentDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	m := New()
	require.NoError(t, InstrumentDB(db, m))

	type sample struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&sample{}))
	require.NoError(t, db.Create(&sample{Name: "a"}).Error)
	var got []sample
	require.NoError(t, db.Find(&got).Error)

	create := findMetric(t, m, "safehaven_db_query_duration_seconds", map[string]string{"operation": "create", "table": "samples"})
	require.NotNil(t, create)
	assert.Equal(t, uint64(1), create.GetHistogram().GetSampleCount())
	query := findMetric(t, m, "safehaven_db_query_duration_seconds", map[string]string{"operation": "query", "status": "ok"})
	require.NotNil(t, query)
}

func TestCollectSystem(t *testing.T) {
	s, _ := CollectSystem(context.Background())
	assert.Positive(t, s.Goroutines)
	assert.Positive(t, s.HeapAlloc)

	m := New()
	m.SetSystemUsage(SystemSnapshot{MemoryTotal: 100, MemoryUsed: 40, CPUPercent: 12.5})
	metric := findMetric(t, m, "safehaven_system_memory_bytes", map[string]string{"type": "used"})
	require.NotNil(t, metric)
	assert.Equal(t, 40.0, metric.GetGauge().GetValue())
}
