package notification

import (
	"context"
	"errors"
)

var ErrPushClientMissing = errors.New("jpush client not configured")

type JPushConfig struct {
	AppKey       string
	MasterSecret string
}

// JPushClient 便于替换/注入的推送接口（适配真实 SDK）
type JPushClient interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

type JPush struct {
	cfg JPushConfig
	cli JPushClient
}

func NewJPush(cfg JPushConfig, cli JPushClient) *JPush { return &JPush{cfg: cfg, cli: cli} }

func (j *JPush) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if j.cli == nil {
		return ErrPushClientMissing
	}
	aud := map[string]interface{}{"alias": alias}
	return j.cli.Push(ctx, title, content, aud, extras)
}

// PushToTags 设备按角色打标签，如 role:police
func (j *JPush) PushToTags(ctx context.Context, tags []string, title, content string, extras map[string]interface{}) error {
	if j.cli == nil {
		return ErrPushClientMissing
	}
	aud := map[string]interface{}{"tag": tags}
	return j.cli.Push(ctx, title, content, aud, extras)
}

// Notify 用户推送到别名（用户 ID），角色推送到标签
func (j *JPush) Notify(ctx context.Context, to Recipient, p Payload) error {
	extras := map[string]interface{}{"event": p.Event}
	for k, v := range p.Data {
		extras[k] = v
	}
	if to.IsUser() {
		return j.PushToAlias(ctx, []string{to.UserID}, p.Title, p.Content, extras)
	}
	tags := make([]string, len(to.Roles))
	for i, r := range to.Roles {
		tags[i] = "role:" + r
	}
	return j.PushToTags(ctx, tags, p.Title, p.Content, extras)
}
