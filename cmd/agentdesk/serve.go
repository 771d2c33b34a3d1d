package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"agentdesk/api"
	"agentdesk/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
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

			gin.SetMode(cfg.Server.Mode)
			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      api.SetupRouter(container),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			// 独立部署的 Worker 写入的消息经 Redis 转发给本进程的 websocket 订阅方
			if container.Relay != nil {
				g.Go(func() error {
					if err := container.Relay.Run(gctx); err != nil {
						logger.Warn("任务消息转发退出，仅推送本进程消息", zap.Error(err))
					}
					return nil
				})
			}

			stopWake := func() {}
			if cfg.Server.EmbedWorker && !noWorker {
				stopWake = startBackground(gctx, g, container, "")
			}

			g.Go(func() error {
				logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("HTTP 服务器异常退出: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("正在关闭服务器...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				stopWake()
				return server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("服务器已关闭")
			return err
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "不在本进程内运行 Worker")
	return cmd
}
