package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(hub *Hub, id, userID string, groups ...string) *Connection {
	c := NewConnection(hub, nil, userID, groups...)
	c.ID = id
	return c
}

func readMessage(t *testing.T, c *Connection) Message {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message for %s", c.ID)
	}
	return Message{}
}

func assertNoMessage(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected message for %s: %s", c.ID, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	assert.Equal(t, int64(10000), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := newTestConn(hub, "c1", "u1", "role:police")
	hub.register <- conn
	assert.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.GetUserConnections("u1"))
	assert.Equal(t, 1, hub.GetGroupConnections("role:police"))

	hub.unregister <- conn
	assert.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.GetUserConnections("u1"))
	assert.Equal(t, 0, hub.GetGroupConnections("role:police"))

	_, open := <-conn.Send
	assert.False(t, open)
}

func TestMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	hub := NewHub(cfg)
	defer hub.Close()

	hub.register <- newTestConn(hub, "c1", "u1")
	rejected := newTestConn(hub, "c2", "u2")
	hub.register <- rejected

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-rejected.Send:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), hub.GetConnectionCount())
}

func TestSendToUserAndGroup(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	ctx := context.Background()

	officer := newTestConn(hub, "c1", "officer", "role:police")
	citizen := newTestConn(hub, "c2", "citizen", "role:citizen")
	hub.register <- officer
	hub.register <- citizen
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.SendToGroup(ctx, "role:police", &Message{Type: MessageTypeNotification, Event: "sos.triggered"}))
	msg := readMessage(t, officer)
	assert.Equal(t, "sos.triggered", msg.Event)
	assert.NotZero(t, msg.Timestamp)
	assertNoMessage(t, citizen)

	require.NoError(t, hub.SendToUser(ctx, "citizen", &Message{Type: MessageTypeNotification, Event: "sos.resolved"}))
	msg = readMessage(t, citizen)
	assert.Equal(t, "sos.resolved", msg.Event)
	assertNoMessage(t, officer)

	require.NoError(t, hub.Publish(ctx, &Message{Type: MessageTypeNotification, Event: "all"}))
	assert.Equal(t, "all", readMessage(t, officer).Event)
	assert.Equal(t, "all", readMessage(t, citizen).Event)
}

func TestSlowConsumerDropsMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageBufferSize = 1
	cfg.SendTimeout = 10 * time.Millisecond
	hub := NewHub(cfg)
	defer hub.Close()
	ctx := context.Background()

	conn := newTestConn(hub, "c1", "u1")
	hub.register <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.SendToUser(ctx, "u1", &Message{Type: MessageTypeNotification}))
	}
	assert.Eventually(t, func() bool { return hub.GetDroppedCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestPublishAfterClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageQueueSize = 1
	hub := NewHub(cfg)
	hub.Close()

	// 队列可能仍有空位，填满后必然返回关闭错误
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = hub.Publish(context.Background(), &Message{Type: MessageTypeNotification})
	}
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestUnregisterAfterCloseDoesNotBlock(t *testing.T) {
	hub := NewHub(DefaultConfig())
	hub.Close()

	// fill the buffer so a plain send would block
	for i := 0; i < cap(hub.unregister); i++ {
		hub.unregister <- newTestConn(hub, "filler", "u")
	}
	done := make(chan struct{})
	go func() {
		hub.enqueueUnregister(newTestConn(hub, "c1", "u1"))
		assert.False(t, hub.enqueueRegister(newTestConn(hub, "c2", "u2")))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked after hub close")
	}
}

func TestHandleWebSocketAfterClose(t *testing.T) {
	hub := NewHub(DefaultConfig())
	hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, "u1")
	}))
	defer srv.Close()

	_, resp, err := gws.DefaultDialer.Dial("ws"+srv.URL[len("http"):], nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, hub.GetConnectionCount())
}

func TestHandleWebSocketRegistersConnection(t *testing.T) {
	hub := NewHub(DefaultConfig())
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, "u1", "role:police")
	}))
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return hub.GetGroupConnections("role:police") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionPingHandling(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	conn := newTestConn(hub, "c1", "u1")
	conn.LastPing = time.Now().Add(-time.Minute)

	raw, _ := json.Marshal(Message{Type: MessageTypePing})
	conn.handleMessage(raw)
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
	assert.WithinDuration(t, time.Now(), conn.LastPing, time.Second)

	raw, _ = json.Marshal(Message{Type: "join_group", Group: "role:admin"})
	conn.handleMessage(raw)
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
	assert.False(t, conn.IsInGroup("role:admin"))

	conn.handleMessage([]byte("not json"))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestConnectionGroups(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	conn := newTestConn(hub, "c1", "u1", "role:volunteer", "role:volunteer")
	assert.Equal(t, []string{"role:volunteer"}, conn.GetGroups())
	assert.True(t, conn.IsInGroup("role:volunteer"))
	assert.False(t, conn.IsInGroup("role:police"))
}

func TestHandlerRequiresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()

	r := gin.New()
	r.GET("/ws", NewHandler(hub, nil).HandleWebSocket)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()

	r := gin.New()
	r.GET("/ws/stats", NewHandler(hub, nil).GetStats)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, float64(0), body.Data["total_connections"])
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultConfig()))
	assert.Error(t, ValidateConfig(nil))

	cfg := DefaultConfig()
	cfg.MaxConnections = 0
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.HeartbeatInterval = cfg.ConnectionTimeout
	assert.Error(t, ValidateConfig(cfg))
}

func TestConfigLoading(t *testing.T) {
	t.Setenv(EnvWebSocketMaxConnections, "500")
	t.Setenv(EnvWebSocketSendTimeoutMs, "20")
	os.Unsetenv(EnvWebSocketHeartbeatInterval)

	cfg := LoadConfigFromEnv()
	assert.Equal(t, int64(500), cfg.MaxConnections)
	assert.Equal(t, 20*time.Millisecond, cfg.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}
