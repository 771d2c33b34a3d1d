package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannelPrefix = "agentdesk:job_messages:"

// MessageRelay 把本进程写入的消息转发给其它进程
type MessageRelay interface {
	Publish(ctx context.Context, msg *AgentMessage) error
}

// relayEnvelope 跨进程消息，origin 用于丢弃自己发出的回声
type relayEnvelope struct {
	Origin  string        `json:"origin"`
	Message *AgentMessage `json:"message"`
}

// RedisRelay 通过 Redis Pub/Sub 在 worker 与 serve 进程间同步任务消息
type RedisRelay struct {
	client *redis.Client
	bus    *MessageBus
	origin string
	logger *zap.Logger
}

// NewRedisRelay 创建 Redis 消息转发器，收到的消息投递到 bus
func NewRedisRelay(client *redis.Client, bus *MessageBus, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client: client,
		bus:    bus,
		origin: uuid.New().String(),
		logger: logger,
	}
}

func relayChannel(jobID string) string {
	return relayChannelPrefix + jobID
}

// Publish 发布一条消息
func (r *RedisRelay) Publish(ctx context.Context, msg *AgentMessage) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("序列化任务消息失败: %w", err)
	}
	return r.client.Publish(ctx, relayChannel(msg.JobID), data).Err()
}

// Run 订阅所有任务的消息频道，直到 ctx 结束
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("订阅任务消息频道失败: %w", err)
	}
	r.logger.Info("任务消息转发已启动", zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(m.Channel, m.Payload)
		}
	}
}

// deliver 解码并投递到本地总线；本进程发出的消息已经在本地推送过
func (r *RedisRelay) deliver(channel, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("任务消息解码失败", zap.String("channel", channel), zap.Error(err))
		return
	}
	if env.Origin == r.origin || env.Message == nil {
		return
	}
	if env.Message.JobID != strings.TrimPrefix(channel, relayChannelPrefix) {
		r.logger.Warn("任务消息与频道不一致", zap.String("channel", channel), zap.String("job_id", env.Message.JobID))
		return
	}
	r.bus.Publish(env.Message)
}
