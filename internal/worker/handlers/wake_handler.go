package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"agentdesk/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Waker 可被唤醒的任务消费者
type Waker interface {
	Wake()
}

type WakeHandler struct {
	waker  Waker
	logger *zap.Logger
}

func NewWakeHandler(waker Waker, logger *zap.Logger) *WakeHandler {
	return &WakeHandler{
		waker:  waker,
		logger: logger,
	}
}

// HandleJobReady 有新任务就绪时唤醒 Worker；认领仍以数据库为准
func (h *WakeHandler) HandleJobReady(ctx context.Context, t *asynq.Task) error {
	var p tasks.JobReadyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Debug("收到任务就绪通知",
		zap.String("job_id", p.JobID),
		zap.Int("iteration", p.Iteration),
	)
	h.waker.Wake()
	return nil
}
