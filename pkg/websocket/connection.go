package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrHubClosed = errors.New("websocket hub closed")

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 身份由 bearer token 校验，不依赖 Origin
			return true
		},
	}
}

// NewConnection 创建连接实例；groups 由服务端决定，客户端不能自行加入
func NewConnection(hub *Hub, conn *websocket.Conn, userID string, groups ...string) *Connection {
	c := &Connection{
		ID:       "conn_" + uuid.NewString(),
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
		IsAlive:  true,
		Groups:   make(map[string]bool, len(groups)),
	}
	for _, g := range groups {
		c.Groups[g] = true
	}
	return c
}

// HandleWebSocket 升级连接并注册到 Hub
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID string, groups ...string) {
	if hub.ctx.Err() != nil {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}

	connection := NewConnection(hub, conn, userID, groups...)
	if !hub.enqueueRegister(connection) {
		conn.Close()
		return
	}

	go connection.writePump()
	go connection.readPump()
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.enqueueUnregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 客户端只会发送心跳，其余消息回复错误
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Warnf("消息解析失败: %v", err)
		c.reply(Message{Type: MessageTypeError, Data: "invalid message"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.touch()
		c.reply(Message{Type: MessageTypePong})
	default:
		c.reply(Message{Type: MessageTypeError, Data: "unsupported message type: " + msg.Type})
	}
}

func (c *Connection) reply(msg Message) {
	msg.Timestamp = time.Now().Unix()
	data, _ := json.Marshal(msg)
	select {
	case c.Send <- data:
	default:
		logrus.Warnf("连接 %s 发送缓冲区已满", c.ID)
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

func (c *Connection) alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.IsAlive
}

// IsInGroup 检查是否在指定组中
func (c *Connection) IsInGroup(groupName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Groups[groupName]
}

// GetGroups 获取连接所属的组
func (c *Connection) GetGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.Groups))
	for group := range c.Groups {
		groups = append(groups, group)
	}
	return groups
}
