package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"agentdesk/api"
	"agentdesk/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd(flags *globalFlags) *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "启动独立的后台任务 Worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer shutdown()

			container, err := api.InitContainer(db, cfg, logger.Get())
			if err != nil {
				return fmt.Errorf("初始化服务失败: %w", err)
			}
			defer container.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			stopWake := startBackground(gctx, g, container, workerID)
			defer stopWake()

			logger.Info("Worker 已启动")
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&workerID, "id", "", "Worker ID，默认读取 jobs.worker_id 或主机名")
	return cmd
}
