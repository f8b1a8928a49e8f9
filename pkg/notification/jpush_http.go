package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const jpushEndpoint = "https://api.jpush.cn/v3/push"

// HTTPJPushClient 调用极光 REST v3 推送接口
type HTTPJPushClient struct {
	cfg      JPushConfig
	endpoint string
	client   *http.Client
}

func NewHTTPJPushClient(cfg JPushConfig, endpoint string) *HTTPJPushClient {
	if endpoint == "" {
		endpoint = jpushEndpoint
	}
	return &HTTPJPushClient{cfg: cfg, endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPJPushClient) Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"platform": "all",
		"audience": audience,
		"notification": map[string]interface{}{
			"alert":   content,
			"android": map[string]interface{}{"title": title, "alert": content, "extras": extras},
			"ios":     map[string]interface{}{"alert": content, "extras": extras},
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.AppKey, c.cfg.MasterSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("jpush: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
