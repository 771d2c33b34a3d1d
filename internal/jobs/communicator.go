package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMessageNotFound 消息不存在
var ErrMessageNotFound = errors.New("消息不存在")

// SendMessageRequest 发送消息请求；ToAgent 为空表示广播
type SendMessageRequest struct {
	JobID       string
	FromAgent   string
	ToAgent     string
	MessageType string
	Content     string
}

// Communicator 任务消息日志，只追加
type Communicator struct {
	db     *gorm.DB
	bus    *MessageBus
	relay  MessageRelay
	logger *zap.Logger
}

// NewCommunicator 创建消息通道；bus 可以为空
func NewCommunicator(db *gorm.DB, bus *MessageBus, logger *zap.Logger) *Communicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Communicator{db: db, bus: bus, logger: logger}
}

// SetRelay 设置跨进程转发，worker 与 serve 分开部署时使用
func (c *Communicator) SetRelay(relay MessageRelay) { c.relay = relay }

// Bus 返回消息总线
func (c *Communicator) Bus() *MessageBus { return c.bus }

// SendMessage 写入一条消息并推送给订阅方
func (c *Communicator) SendMessage(ctx context.Context, req *SendMessageRequest) (*AgentMessage, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("jobID 不能为空")
	}
	switch req.MessageType {
	case MessageRequest, MessageResponse, MessageFeedback, MessageError:
	default:
		return nil, fmt.Errorf("无效的消息类型: %s", req.MessageType)
	}

	msg := &AgentMessage{
		JobID:       req.JobID,
		FromAgent:   req.FromAgent,
		MessageType: req.MessageType,
		Content:     req.Content,
	}
	if req.ToAgent != "" {
		to := req.ToAgent
		msg.ToAgent = &to
	}
	if err := c.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("写入消息失败: %w", err)
	}
	c.bus.Publish(msg)
	if c.relay != nil {
		if err := c.relay.Publish(ctx, msg); err != nil {
			c.logger.Warn("转发任务消息失败", zap.String("job_id", msg.JobID), zap.Error(err))
		}
	}
	return msg, nil
}

// GetMessages 发给该 agent 或广播的消息，按写入顺序
func (c *Communicator) GetMessages(ctx context.Context, agentID string, unreadOnly bool) ([]*AgentMessage, error) {
	q := c.db.WithContext(ctx).
		Where("(to_agent = ? OR to_agent IS NULL)", agentID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var list []*AgentMessage
	if err := q.Order("created_at ASC").Order("seq ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	return list, nil
}

// ListByJob 某任务的全部消息
func (c *Communicator) ListByJob(ctx context.Context, jobID string) ([]*AgentMessage, error) {
	var list []*AgentMessage
	err := c.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").Order("seq ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询任务消息失败: %w", err)
	}
	return list, nil
}

// MarkAsRead 标记已读
func (c *Communicator) MarkAsRead(ctx context.Context, messageID string) error {
	res := c.db.WithContext(ctx).Model(&AgentMessage{}).
		Where("id = ?", messageID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("标记已读失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := c.db.WithContext(ctx).Model(&AgentMessage{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return fmt.Errorf("查询消息失败: %w", err)
		}
		if count == 0 {
			return ErrMessageNotFound
		}
	}
	return nil
}

// Notify 尽力写入一条消息，失败只记录日志
func (c *Communicator) Notify(ctx context.Context, jobID, from, msgType, content string) {
	if _, err := c.SendMessage(ctx, &SendMessageRequest{
		JobID:       jobID,
		FromAgent:   from,
		MessageType: msgType,
		Content:     content,
	}); err != nil {
		c.logger.Warn("写入任务消息失败", zap.String("job_id", jobID), zap.Error(err))
	}
}
