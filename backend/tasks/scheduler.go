package tasks

import (
	"context"
	"time"

	"secureproxy/backend/service/applog"
)

// HealthInterval 引擎健康检查的周期
const HealthInterval = 30 * time.Second

// HealthChecker 由门面实现
type HealthChecker interface {
	CheckHealth(ctx context.Context)
}

type Scheduler struct {
	health   HealthChecker
	interval time.Duration
}

func NewScheduler(health HealthChecker) *Scheduler {
	return &Scheduler{health: health, interval: HealthInterval}
}

// WithInterval 修改健康检查周期
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	s.interval = d
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.health == nil {
		return
	}
	go runWithTicker(ctx, s.interval, "engine health", s.health.CheckHealth)
}

func runWithTicker(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) {
	if interval <= 0 {
		interval = HealthInterval
	}

	// 启动后先跑一次，避免“等待一个周期才生效”。
	safeRun(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safeRun(ctx, name, fn)
		}
	}
}

func safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log := applog.For("tasks")
			log.Error().Str("task", name).Interface("panic", r).Msg("task panicked")
		}
	}()
	fn(ctx)
}
