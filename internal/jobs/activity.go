package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 活动事件
const (
	EventEnqueued  = "enqueued"
	EventApproved  = "approved"
	EventClaimed   = "claimed"
	EventFinalized = "finalized"
	EventIteration = "iteration"
	EventReclaimed = "reclaimed"
)

// ActivityLog 任务状态迁移的活动记录
type ActivityLog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewActivityLog 创建活动日志
func NewActivityLog(db *gorm.DB, logger *zap.Logger) *ActivityLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityLog{db: db, logger: logger}
}

// Record 记录一次状态迁移；失败只写日志，不影响调用方
func (a *ActivityLog) Record(ctx context.Context, job *AgentJob, event string, detail map[string]any) {
	if a == nil || job == nil {
		return
	}
	entry := &ActivityEntry{
		OwnerID:   job.OwnerID,
		JobID:     job.ID,
		SessionID: job.SessionID,
		Event:     event,
		Detail:    detail,
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		a.logger.Warn("写入活动日志失败",
			zap.String("job_id", job.ID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// List 查询某用户的活动，jobID 为空时返回全部
func (a *ActivityLog) List(ctx context.Context, ownerID, jobID string, limit int) ([]*ActivityEntry, error) {
	q := a.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}
	if limit <= 0 {
		limit = 100
	}
	var list []*ActivityEntry
	if err := q.Order("created_at ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询活动日志失败: %w", err)
	}
	return list, nil
}

// Models 本包需要迁移的表
func Models() []any {
	return []any{&AgentJob{}, &AgentMessage{}, &ActivityEntry{}}
}
