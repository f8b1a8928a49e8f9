package listeners

import (
	"fmt"
	"time"

	"SafeHaven/internal/models"
	"SafeHaven/internal/policy"
	"SafeHaven/pkg/constant"
	"SafeHaven/pkg/notification"
	"SafeHaven/pkg/util"
)

// Enqueuer 非阻塞入队，由 notification.Dispatcher 实现
type Enqueuer interface {
	Enqueue(to notification.Recipient, p notification.Payload) bool
}

// responders 能查看全部 active 警报的角色
func responders() notification.Recipient {
	roles := policy.RolesWith(policy.ViewAllActiveSos)
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return notification.ToRoles(names...)
}

// InitSosListeners 警报状态变化时异步通知；入队失败由 Dispatcher 记录
func InitSosListeners(sig *util.Signals, q Enqueuer) {
	sig.Connect(constant.EventSosTriggered, func(sender any, params ...any) {
		alert, ok := sender.(*models.SosAlert)
		if !ok {
			return
		}
		data := map[string]interface{}{
			"alertId":     alert.ID,
			"userId":      alert.UserID,
			"triggeredAt": alert.TriggeredAt.Format(time.RFC3339),
		}
		content := fmt.Sprintf("User %s needs help", alert.UserID)
		if alert.HasLocation() {
			data["latitude"] = *alert.Latitude
			data["longitude"] = *alert.Longitude
			content = fmt.Sprintf("User %s needs help at %.5f, %.5f", alert.UserID, *alert.Latitude, *alert.Longitude)
		}
		if alert.Message != "" {
			data["message"] = alert.Message
		}
		q.Enqueue(responders(), notification.Payload{
			Event:     constant.EventSosTriggered,
			Title:     "SOS alert",
			Content:   content,
			Data:      data,
			CreatedAt: alert.TriggeredAt,
		})
	})

	sig.Connect(constant.EventSosCancelled, func(sender any, params ...any) {
		alert, ok := sender.(*models.SosAlert)
		if !ok {
			return
		}
		at := time.Now().UTC()
		if alert.CancelledAt != nil {
			at = *alert.CancelledAt
		}
		q.Enqueue(responders(), notification.Payload{
			Event:     constant.EventSosCancelled,
			Title:     "SOS withdrawn",
			Content:   fmt.Sprintf("User %s withdrew their SOS alert", alert.UserID),
			Data:      map[string]interface{}{"alertId": alert.ID, "userId": alert.UserID},
			CreatedAt: at,
		})
	})

	sig.Connect(constant.EventSosResolved, func(sender any, params ...any) {
		alert, ok := sender.(*models.SosAlert)
		if !ok {
			return
		}
		at := time.Now().UTC()
		if alert.ResolvedAt != nil {
			at = *alert.ResolvedAt
		}
		data := map[string]interface{}{"alertId": alert.ID, "resolvedBy": alert.ResolvedBy}
		if alert.ResolutionNotes != "" {
			data["notes"] = alert.ResolutionNotes
		}
		q.Enqueue(notification.ToUser(alert.UserID), notification.Payload{
			Event:     constant.EventSosResolved,
			Title:     "SOS resolved",
			Content:   "A responder has resolved your SOS alert",
			Data:      data,
			CreatedAt: at,
		})
	})
}
