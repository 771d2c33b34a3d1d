package worker

import (
	"context"

	"agentdesk/internal/config"
	"agentdesk/internal/worker/handlers"
	"agentdesk/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 接收 asynq 唤醒消息，转交给本进程的 Worker
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建唤醒服务
func NewServer(cfg config.RedisConfig, waker handlers.Waker, logger *zap.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 1, // 唤醒只是信号，真正的执行在 Worker 循环里
			Queues: map[string]int{
				"agentjobs": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("唤醒任务处理失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	wakeHandler := handlers.NewWakeHandler(waker, logger)
	mux.HandleFunc(tasks.TypeJobReady, wakeHandler.HandleJobReady)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("唤醒服务启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止服务
func (s *Server) Shutdown() {
	s.logger.Info("唤醒服务停止中...")
	s.server.Shutdown()
}
