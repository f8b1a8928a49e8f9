package notification

import (
	"context"
	stderrors "errors"
	"time"
)

// Recipient 单个用户或一组角色
type Recipient struct {
	UserID string   `json:"userId,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

func ToUser(userID string) Recipient { return Recipient{UserID: userID} }

func ToRoles(roles ...string) Recipient { return Recipient{Roles: roles} }

func (r Recipient) IsUser() bool { return r.UserID != "" }

// Payload 通知内容
type Payload struct {
	Event     string                 `json:"event"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Gateway 通知投递通道
type Gateway interface {
	Notify(ctx context.Context, to Recipient, p Payload) error
}

// GatewayFunc 函数适配
type GatewayFunc func(ctx context.Context, to Recipient, p Payload) error

func (f GatewayFunc) Notify(ctx context.Context, to Recipient, p Payload) error { return f(ctx, to, p) }

// Multi 依次投递到所有通道，单个失败不影响其他通道
type Multi []Gateway

func (m Multi) Notify(ctx context.Context, to Recipient, p Payload) error {
	var errs []error
	for _, g := range m {
		if g == nil {
			continue
		}
		if err := g.Notify(ctx, to, p); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
