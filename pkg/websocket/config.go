package websocket

import (
	"fmt"
	"time"

	"SafeHaven/pkg/util"
)

// 环境变量配置键
const (
	EnvWebSocketMaxConnections    = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketMessageQueueSize  = "WEBSOCKET_MESSAGE_QUEUE_SIZE"
	EnvWebSocketSendTimeoutMs     = "WEBSOCKET_SEND_TIMEOUT_MS"
)

// LoadConfigFromEnv 从环境变量加载WebSocket配置
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if v := util.GetIntEnv(EnvWebSocketMaxConnections); v > 0 {
		config.MaxConnections = v
	}
	if v := util.GetIntEnv(EnvWebSocketHeartbeatInterval); v > 0 {
		config.HeartbeatInterval = time.Duration(v) * time.Second
	}
	if v := util.GetIntEnv(EnvWebSocketConnectionTimeout); v > 0 {
		config.ConnectionTimeout = time.Duration(v) * time.Second
	}
	if v := util.GetIntEnv(EnvWebSocketMessageBufferSize); v > 0 {
		config.MessageBufferSize = int(v)
	}
	if v := util.GetIntEnv(EnvWebSocketMessageQueueSize); v > 0 {
		config.MessageQueueSize = int(v)
	}
	if v := util.GetIntEnv(EnvWebSocketSendTimeoutMs); v > 0 {
		config.SendTimeout = time.Duration(v) * time.Millisecond
	}
	return config
}

// ValidateConfig 验证WebSocket配置
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置不能为空")
	}
	if config.MaxConnections <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}
	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("心跳间隔必须大于0")
	}
	if config.ConnectionTimeout <= 0 {
		return fmt.Errorf("连接超时时间必须大于0")
	}
	if config.MessageBufferSize <= 0 || config.MessageQueueSize <= 0 {
		return fmt.Errorf("缓冲区与队列大小必须大于0")
	}
	// 心跳间隔应该小于连接超时时间
	if config.HeartbeatInterval >= config.ConnectionTimeout {
		return fmt.Errorf("心跳间隔必须小于连接超时时间")
	}
	return nil
}
