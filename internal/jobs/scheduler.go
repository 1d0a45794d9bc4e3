// Package jobs 定时任务：活动提醒、排名校正、过期租约与限流桶清理。
package jobs

import (
	"context"
	"log/slog"
	"time"

	"townsquare/internal/lease"
	"townsquare/internal/services"

	"github.com/robfig/cron/v3"
)

const (
	reminderSpec  = "@hourly"
	reconcileSpec = "0 3 * * *"
	sweepSpec     = "@every 5m"

	// 限流桶闲置超过这个时间即可丢弃
	bucketIdle = 10 * time.Minute
	jobTimeout = 5 * time.Minute
)

type Scheduler struct {
	cron    *cron.Cron
	svc     *services.Services
	leases  *lease.Manager
	limiter *services.Limiter
}

func New(svc *services.Services, leases *lease.Manager, limiter *services.Limiter) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		svc:     svc,
		leases:  leases,
		limiter: limiter,
	}
}

// Start 注册全部任务并启动调度
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		fn   func(context.Context)
	}{
		{reminderSpec, "event_reminders", s.sendReminders},
		{reconcileSpec, "ranking_reconcile", s.reconcile},
		{sweepSpec, "sweep", s.sweep},
	}
	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.run(j.name, j.fn) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(jobs))
	return nil
}

// Stop 停止调度并等待正在执行的任务
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) run(name string, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled job panicked", "job", name, "panic", r)
		}
	}()
	start := time.Now()
	fn(ctx)
	slog.Debug("Scheduled job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) sendReminders(ctx context.Context) {
	n, err := s.svc.Events.SendDueReminders(ctx)
	if err != nil {
		slog.Error("Failed to send event reminders", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Event reminders sent", "count", n)
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	n, err := s.svc.Ranking.ReconcileRecent(ctx)
	if err != nil {
		slog.Error("Failed to reconcile rankings", "error", err)
		return
	}
	slog.Info("Rankings reconciled", "posts", n)
}

func (s *Scheduler) sweep(ctx context.Context) {
	if s.leases != nil {
		n, err := s.leases.Sweep(ctx)
		if err != nil {
			slog.Error("Failed to sweep leases", "error", err)
		} else if n > 0 {
			slog.Debug("Expired leases removed", "count", n)
		}
	}
	if s.limiter != nil {
		if n := s.limiter.Sweep(bucketIdle); n > 0 {
			slog.Debug("Idle rate limit buckets removed", "count", n)
		}
	}
}
