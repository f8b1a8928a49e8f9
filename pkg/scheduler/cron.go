package scheduler

import (
	"context"
	"time"

	"SafeHaven/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Cron struct {
	c   *cron.Cron
	loc *time.Location
}

// cronLogger 将 cron 内部日志转到 zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, zap.Any("kv", keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, zap.Error(err), zap.Any("kv", keysAndValues))
}

func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	l := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	return &Cron{c: c, loc: loc}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop 等待正在执行的任务结束
func (cr *Cron) Stop() { ctx := cr.c.Stop(); <-ctx.Done() }

func (cr *Cron) Add(expr string, job Job) (cron.EntryID, error) {
	return cr.c.AddFunc(expr, func() { job.Run(context.Background()) })
}

func (cr *Cron) AddWithCtx(expr string, fn func(ctx context.Context)) (cron.EntryID, error) {
	return cr.Add(expr, FuncJob(fn))
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }
