package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 消息类型
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeNotification = "notification"
	MessageTypeError        = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	To        string      `json:"to,omitempty"`
	Group     string      `json:"group,omitempty"`
}

// Connection 表示一个WebSocket连接
type Connection struct {
	ID       string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	IsAlive  bool
	mu       sync.RWMutex
	Groups   map[string]bool
}

// Hub 管理所有WebSocket连接，映射表只在 run 协程内修改
type Hub struct {
	// 注册的连接
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 组到连接ID的映射
	groupConnections map[string]map[string]bool
	// 待投递消息
	broadcast chan *Message
	// 注册连接通道
	register chan *Connection
	// 注销连接通道
	unregister chan *Connection
	// 连接计数
	connectionCount int64
	// 已丢弃消息计数
	dropped int64
	config  *Config
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间
	ConnectionTimeout time.Duration
	// 每个连接的发送缓冲区大小
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	// 客户端消息最大字节数
	MaxMessageSize int
	// Hub 待投递队列大小
	MessageQueueSize int
	// 发送阻塞超时，超时后丢弃
	SendTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MessageBufferSize: 64,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512,
		MessageQueueSize:  1000,
		SendTimeout:       50 * time.Millisecond,
	}
}

// NewHub 创建新的Hub实例并启动主循环
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MessageQueueSize <= 0 {
		config.MessageQueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		broadcast:        make(chan *Message, config.MessageQueueSize),
		register:         make(chan *Connection, 64),
		unregister:       make(chan *Connection, 64),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
	}
	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			h.deliver(message)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

func (h *Hub) deliver(message *Message) {
	// 单次序列化减少重复开销
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case message.To != "":
		h.sendToSet(h.userConnections[message.To], data)
	case message.Group != "":
		h.sendToSet(h.groupConnections[message.Group], data)
	default:
		for _, conn := range h.connections {
			h.trySend(conn, data)
		}
	}
}

// registerConnection 注册连接
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		if conn.Conn != nil {
			conn.Conn.Close()
		}
		close(conn.Send)
		logrus.Warnf("达到最大连接数限制: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}
	for _, group := range conn.GetGroups() {
		if h.groupConnections[group] == nil {
			h.groupConnections[group] = make(map[string]bool)
		}
		h.groupConnections[group][conn.ID] = true
	}

	logrus.Infof("WebSocket连接已注册: %s, 用户: %s, 当前连接数: %d",
		conn.ID, conn.UserID, atomic.LoadInt64(&h.connectionCount))
}

// unregisterConnection 注销连接
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)

	if conns := h.userConnections[conn.UserID]; conns != nil {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}
	for _, group := range conn.GetGroups() {
		if conns := h.groupConnections[group]; conns != nil {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(h.groupConnections, group)
			}
		}
	}

	close(conn.Send)
	logrus.Infof("WebSocket连接已注销: %s, 当前连接数: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))
}

func (h *Hub) sendToSet(ids map[string]bool, data []byte) {
	for connID := range ids {
		if conn, ok := h.connections[connID]; ok {
			h.trySend(conn, data)
		}
	}
}

// trySend 限定等待时长，慢消费者的消息被丢弃
func (h *Hub) trySend(conn *Connection, data []byte) {
	if !conn.alive() {
		return
	}
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case conn.Send <- data:
	case <-timer.C:
		atomic.AddInt64(&h.dropped, 1)
		logrus.Warnf("连接 %s 发送缓冲区已满，消息被丢弃", conn.ID)
	}
}

// checkHeartbeats 检查心跳
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		conn.mu.Lock()
		if conn.IsAlive && now.Sub(conn.LastPing) > h.config.ConnectionTimeout {
			logrus.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.IsAlive = false
			if conn.Conn != nil {
				conn.Conn.Close()
			}
		}
		conn.mu.Unlock()
	}
}

// Publish 投递消息；队列满或 ctx 结束时返回错误
func (h *Hub) Publish(ctx context.Context, message *Message) error {
	select {
	case h.broadcast <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// SendToUser 发送给用户的所有连接
func (h *Hub) SendToUser(ctx context.Context, userID string, message *Message) error {
	message.To = userID
	return h.Publish(ctx, message)
}

// SendToGroup 发送给组内所有连接
func (h *Hub) SendToGroup(ctx context.Context, group string, message *Message) error {
	message.Group = group
	return h.Publish(ctx, message)
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetDroppedCount 因背压丢弃的消息数
func (h *Hub) GetDroppedCount() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// enqueueRegister Hub 已关闭时返回 false
func (h *Hub) enqueueRegister(conn *Connection) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.register <- conn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// enqueueUnregister Hub 关闭后直接返回，不再等待 run
func (h *Hub) enqueueUnregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}
	h.mu.Unlock()

	logrus.Info("WebSocket Hub已关闭")
}
