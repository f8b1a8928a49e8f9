package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SafeHaven/internal/emergency"
	"SafeHaven/internal/listeners"
	"SafeHaven/internal/models"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/metrics"
	"SafeHaven/pkg/middleware"
	"SafeHaven/pkg/notification"
	"SafeHaven/pkg/response"
	"SafeHaven/pkg/util"
	"SafeHaven/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorBody `json:"error"`
}

type testServer struct {
	engine *gin.Engine
	auth   *middleware.Authenticator
	db     *gorm.DB
}

func newTestServer(t *testing.T, locationRate string) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := util.InitDatabase("sqlite", fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano()), false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db, &notification.InternalNotification{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	m := metrics.New()
	users := models.NewUserDirectory(db)
	hub := websocket.NewHub(websocket.DefaultConfig())
	t.Cleanup(hub.Close)

	dispatcher := notification.NewDispatcher(notification.NewInbox(db, users), notification.DispatcherConfig{Workers: 1}, m)
	t.Cleanup(dispatcher.Close)

	coord := emergency.New(
		models.NewSosStore(db, nil),
		models.NewShareStore(db, 60, 480),
		emergency.Options{VolunteerMaxRadius: 5000},
		emergency.WithMetrics(m),
	)
	listeners.InitSosListeners(coord.Signals(), dispatcher)

	auth := middleware.NewAuthenticator("test-secret").WithIdentityHook(users.Touch, time.Minute)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		PerRouteRates: map[string]string{"/api/locations/update": locationRate},
	}, nil).WithObserver(m)

	engine := gin.New()
	engine.Use(metrics.Middleware(m))
	NewHandlers(Deps{
		DB:          db,
		Coordinator: coord,
		Auth:        auth,
		Limiter:     rl,
		Hub:         hub,
		Metrics:     m,
		APIPrefix:   "/api",
	}).Register(engine)
	return &testServer{engine: engine, auth: auth, db: db}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.auth.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func assertKind(t *testing.T, env envelope, kind errors.Kind) {
	t.Helper()
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, kind, env.Error.Kind)
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t, "100-M")

	for _, path := range []string{"/api/sos/status", "/api/locations/share/status", "/api/notification"} {
		w, env := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assertKind(t, env, errors.KindUnauthenticated)
	}
	w, _ := s.do(t, http.MethodPost, "/api/sos", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSosLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")
	police := s.token(t, "officer-1", "police")

	w, env := s.do(t, http.MethodPost, "/api/sos", citizen, map[string]interface{}{
		"latitude": 12.97, "longitude": 77.59, "message": "help",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)
	var alert models.SosAlert
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, models.SosStatusActive, alert.Status)
	assert.Equal(t, "citizen-1", alert.UserID)

	w, env = s.do(t, http.MethodPost, "/api/sos", citizen, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assertKind(t, env, errors.KindConflict)

	w, env = s.do(t, http.MethodGet, "/api/sos/status", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Active bool             `json:"active"`
		Alert  *models.SosAlert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Active)
	assert.Equal(t, alert.ID, status.Alert.ID)

	w, env = s.do(t, http.MethodGet, "/api/sos/active", citizen, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assertKind(t, env, errors.KindAuthorization)

	w, env = s.do(t, http.MethodGet, "/api/sos/active", police, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []models.SosAlert
	require.NoError(t, json.Unmarshal(env.Data, &active))
	require.Len(t, active, 1)

	w, _ = s.do(t, http.MethodPost, "/api/sos/"+alert.ID+"/resolve", citizen, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/sos/"+alert.ID+"/resolve", police, map[string]string{"notes": "on scene"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, models.SosStatusResolved, alert.Status)
	assert.Equal(t, "officer-1", alert.ResolvedBy)

	w, env = s.do(t, http.MethodPost, "/api/sos/"+alert.ID+"/resolve", police, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assertKind(t, env, errors.KindInvalidState)

	w, env = s.do(t, http.MethodPost, "/api/sos/missing/resolve", police, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertKind(t, env, errors.KindNotFound)

	w, env = s.do(t, http.MethodDelete, "/api/sos", citizen, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertKind(t, env, errors.KindNotFound)

	w, env = s.do(t, http.MethodGet, "/api/sos/history", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.SosAlert
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)

	w, _ = s.do(t, http.MethodGet, "/api/sos/stats", citizen, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = s.do(t, http.MethodGet, "/api/sos/stats", police, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.SosStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Resolved)
}

func TestCancelSos(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")

	w, _ := s.do(t, http.MethodPost, "/api/sos", citizen, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(t, http.MethodDelete, "/api/sos", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alert models.SosAlert
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, models.SosStatusCancelled, alert.Status)

	_, env = s.do(t, http.MethodGet, "/api/sos/status", citizen, nil)
	assert.JSONEq(t, `{"active":false,"alert":null}`, string(env.Data))
}

func TestSosValidation(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")

	w, env := s.do(t, http.MethodPost, "/api/sos", citizen, map[string]interface{}{"latitude": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertKind(t, env, errors.KindValidation)

	w, env = s.do(t, http.MethodPost, "/api/sos", citizen, map[string]interface{}{"latitude": 91, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertKind(t, env, errors.KindValidation)

	w, env = s.do(t, http.MethodPost, "/api/sos", citizen, "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertKind(t, env, errors.KindValidation)

	w, _ = s.do(t, http.MethodGet, "/api/sos/history?limit=abc", citizen, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unknown := s.token(t, "someone", "superhero")
	w, env = s.do(t, http.MethodPost, "/api/sos", unknown, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assertKind(t, env, errors.KindAuthorization)
}

func TestLocationSharingOverHTTP(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")
	volunteer := s.token(t, "vol-1", "volunteer")
	police := s.token(t, "officer-1", "police")

	w, env := s.do(t, http.MethodGet, "/api/locations/share/citizen-1", police, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertKind(t, env, errors.KindNotSharing)

	w, env = s.do(t, http.MethodPost, "/api/locations/share/start", citizen, map[string]int{"durationMinutes": 100000})
	require.Equal(t, http.StatusOK, w.Code)
	var st models.ShareStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Sharing)
	assert.Equal(t, 480, st.Session.DurationMinutes)

	w, _ = s.do(t, http.MethodPost, "/api/locations/update", citizen, map[string]float64{"latitude": 12.9716, "longitude": 77.5946})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/locations/share/citizen-1", police, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var loc models.UserLocation
	require.NoError(t, json.Unmarshal(env.Data, &loc))
	assert.Equal(t, 12.9716, loc.Latitude)

	w, env = s.do(t, http.MethodGet, "/api/locations/share/citizen-1", volunteer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &loc))
	assert.Equal(t, "citizen-1", loc.UserID)

	w, env = s.do(t, http.MethodGet, "/api/locations/share/citizen-1", s.token(t, "citizen-2", "citizen"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assertKind(t, env, errors.KindAuthorization)

	w, env = s.do(t, http.MethodGet, "/api/locations/riders?lat=12.97&lng=77.59&radius=2000", volunteer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var nearby []models.UserPosition
	require.NoError(t, json.Unmarshal(env.Data, &nearby))
	require.Len(t, nearby, 1)
	assert.Equal(t, "citizen-1", nearby[0].UserID)
	assert.Greater(t, nearby[0].DistanceMeters, 0.0)

	w, _ = s.do(t, http.MethodGet, "/api/locations/riders?lat=12.97", volunteer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/locations/riders", citizen, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/locations/share/stop", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, env = s.do(t, http.MethodGet, "/api/locations/share/status", citizen, nil)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Sharing)

	w, env = s.do(t, http.MethodGet, "/api/locations/history", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var points []models.LocationPoint
	require.NoError(t, json.Unmarshal(env.Data, &points))
	assert.Len(t, points, 1)

	w, _ = s.do(t, http.MethodGet, "/api/locations/history?from=yesterday", citizen, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/locations/update", citizen, map[string]float64{"latitude": 0, "longitude": 181})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertKind(t, env, errors.KindValidation)
}

func TestLocationUpdateRequiresCoordinates(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")

	for _, body := range []interface{}{
		map[string]interface{}{},
		map[string]interface{}{"accuracy": 5},
		map[string]interface{}{"latitude": 12.97},
	} {
		w, env := s.do(t, http.MethodPost, "/api/locations/update", citizen, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assertKind(t, env, errors.KindValidation)
	}

	var n int64
	require.NoError(t, s.db.Model(&models.UserLocation{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, s.db.Model(&models.LocationPoint{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestLocationUpdateRateLimited(t *testing.T) {
	s := newTestServer(t, "2-M")
	citizen := s.token(t, "citizen-1", "citizen")
	other := s.token(t, "citizen-2", "citizen")
	body := map[string]float64{"latitude": 1, "longitude": 1}

	for i := 0; i < 2; i++ {
		w, _ := s.do(t, http.MethodPost, "/api/locations/update", citizen, body)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, env := s.do(t, http.MethodPost, "/api/locations/update", citizen, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assertKind(t, env, middleware.KindRateLimited)

	// other routes and users are counted separately
	w, _ = s.do(t, http.MethodGet, "/api/locations/share/status", citizen, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/locations/update", other, body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRespondersReceiveInboxNotification(t *testing.T) {
	s := newTestServer(t, "100-M")
	citizen := s.token(t, "citizen-1", "citizen")
	police := s.token(t, "officer-1", "police")

	// registers the officer in the user directory
	w, _ := s.do(t, http.MethodGet, "/api/notification/unread-count", police, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sos", citizen, map[string]string{"message": "help"})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Eventually(t, func() bool {
		_, env := s.do(t, http.MethodGet, "/api/notification/unread-count", police, nil)
		var res struct {
			Count int64 `json:"count"`
		}
		return json.Unmarshal(env.Data, &res) == nil && res.Count == 1
	}, 2*time.Second, 20*time.Millisecond)

	_, env := s.do(t, http.MethodGet, "/api/notification", police, nil)
	var list []notification.InternalNotification
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "sos.triggered", list[0].Event)

	// a citizen cannot mark someone else's notification
	w, env = s.do(t, http.MethodPut, fmt.Sprintf("/api/notification/read/%d", list[0].ID), citizen, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertKind(t, env, errors.KindNotFound)

	w, _ = s.do(t, http.MethodPut, fmt.Sprintf("/api/notification/read/%d", list[0].ID), police, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, env = s.do(t, http.MethodGet, "/api/notification/unread-count", police, nil)
	assert.JSONEq(t, `{"count":0}`, string(env.Data))

	w, _ = s.do(t, http.MethodPut, "/api/notification/read/abc", police, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "100-M")

	w, env := s.do(t, http.MethodGet, "/api/system/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "websocketConnections")

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "safehaven_http_requests_total")

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	w, env = s.do(t, http.MethodGet, "/api/system/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
}

func TestWebsocketRequiresToken(t *testing.T) {
	s := newTestServer(t, "100-M")

	w, _ := s.do(t, http.MethodGet, "/api/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/ws/stats", s.token(t, "citizen-1", "citizen"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/ws/stats", s.token(t, "admin-1", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
