package notification

import (
	"context"

	"SafeHaven/pkg/websocket"
)

// HubSender 实时推送所需的 Hub 能力
type HubSender interface {
	SendToUser(ctx context.Context, userID string, msg *websocket.Message) error
	SendToGroup(ctx context.Context, group string, msg *websocket.Message) error
}

// RoleGroup 连接按角色加入的组名
func RoleGroup(role string) string { return "role:" + role }

// Realtime 通过 WebSocket 推送给在线用户
type Realtime struct {
	hub HubSender
}

func NewRealtime(hub HubSender) *Realtime { return &Realtime{hub: hub} }

func (r *Realtime) Notify(ctx context.Context, to Recipient, p Payload) error {
	msg := func() *websocket.Message {
		return &websocket.Message{
			Type:      websocket.MessageTypeNotification,
			Event:     p.Event,
			Data:      p,
			Timestamp: p.CreatedAt.Unix(),
		}
	}
	if to.IsUser() {
		return r.hub.SendToUser(ctx, to.UserID, msg())
	}
	for _, role := range to.Roles {
		if err := r.hub.SendToGroup(ctx, RoleGroup(role), msg()); err != nil {
			return err
		}
	}
	return nil
}
