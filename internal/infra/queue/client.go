package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Notifier 任务就绪通知接口
// 入队或批准任务后调用，用来替代 Worker 的固定间隔轮询；通知丢失时轮询兜底
type Notifier interface {
	NotifyJobReady(ctx context.Context, payload tasks.JobReadyPayload) error
	Close() error
}

type asynqNotifier struct {
	client *asynq.Client
}

// NewNotifier 创建基于 asynq 的通知客户端
func NewNotifier(cfg config.RedisConfig) Notifier {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqNotifier{client: client}
}

func (n *asynqNotifier) NotifyJobReady(ctx context.Context, payload tasks.JobReadyPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeJobReady, data)
	// 唤醒消息不需要重试，认领失败由轮询兜底
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
		asynq.Retention(10*time.Minute),
		asynq.Queue("agentjobs"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (n *asynqNotifier) Close() error {
	return n.client.Close()
}

// NopNotifier 未启用 Redis 时使用
type NopNotifier struct{}

func (NopNotifier) NotifyJobReady(context.Context, tasks.JobReadyPayload) error { return nil }

func (NopNotifier) Close() error { return nil }
