package scheduler

import (
	"context"
	"sync"
	"time"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler 固定间隔任务
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Stop 取消所有任务并等待退出
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Every 立即执行一次，之后每隔 d 执行
func (s *Scheduler) Every(d time.Duration, job Job) {
	s.wg.Add(1)
	go s.loopEvery(d, job)
}

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	defer s.wg.Done()
	job.Run(s.ctx)
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			job.Run(s.ctx)
		}
	}
}
