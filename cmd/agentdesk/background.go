package main

import (
	"context"

	"agentdesk/api"
	"agentdesk/internal/logger"
	"agentdesk/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// startBackground 在 errgroup 中运行 Worker 与租约回收器；
// 配置了 Redis 唤醒时同时启动 asynq 服务，返回的函数用于停止它
func startBackground(ctx context.Context, g *errgroup.Group, c *api.AppContainer, workerID string) func() {
	w := c.NewWorker(workerID)
	reaper := c.NewReaper()

	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return reaper.Run(ctx) })

	cfg := c.Config
	if c.Redis == nil || !cfg.Jobs.NotifyEnabled {
		logger.Info("未启用 Redis 唤醒，Worker 仅按间隔轮询",
			zap.String("worker_id", w.ID()),
			zap.Duration("poll_interval", cfg.Jobs.PollIntervalDuration()),
		)
		return func() {}
	}

	wake := worker.NewServer(cfg.Redis, w, logger.Named("asynq"))
	if err := wake.Start(); err != nil {
		logger.Warn("唤醒服务启动失败，退回轮询", zap.Error(err))
		return func() {}
	}
	return wake.Shutdown
}
