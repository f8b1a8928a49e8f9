package listeners

import (
	"context"
	"time"

	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/scheduler"

	"go.uber.org/zap"
)

// HistoryPruner 删除早于 before 的位置历史
type HistoryPruner interface {
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
	Now() time.Time
}

// RetentionJob 位置历史保留 days 天；days <= 0 时不清理
func RetentionJob(p HistoryPruner, days int) scheduler.FuncJob {
	return func(ctx context.Context) {
		if days <= 0 {
			return
		}
		cutoff := p.Now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := p.PruneHistory(ctx, cutoff)
		if err != nil {
			logger.Error("prune location history failed", zap.Error(err))
			return
		}
		logger.Info("pruned location history", zap.Int64("rows", n), zap.Time("before", cutoff))
	}
}

// InitRetention 按 cron 表达式注册清理任务
func InitRetention(c *scheduler.Cron, p HistoryPruner, schedule string, days int) error {
	_, err := c.Add(schedule, RetentionJob(p, days))
	return err
}
