package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"agentdesk/internal/infra/queue"
	"agentdesk/internal/metrics"
	"agentdesk/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 单次认领在竞争失败后的最大重试次数
const claimAttempts = 5

// DefaultMaxIterations 未指定时的迭代上限
const DefaultMaxIterations = 3

// EnqueueRequest 入队请求
type EnqueueRequest struct {
	OwnerID       string
	SessionID     string
	Type          string
	Payload       map[string]any
	AutonomyLevel string
	Approved      *bool // 为空时仅 full 自主级别自动批准
	MaxIterations int
	Iteration     int
	ParentJobID   *string
}

// Store 后台任务存储，所有状态迁移都是条件更新
type Store struct {
	db            *gorm.DB
	notifier      queue.Notifier
	logger        *zap.Logger
	maxIterations int
	now           func() time.Time
}

// NewStore 创建任务存储；notifier 为空时不发送唤醒通知
func NewStore(db *gorm.DB, notifier queue.Notifier, logger *zap.Logger) *Store {
	if notifier == nil {
		notifier = queue.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:            db,
		notifier:      notifier,
		logger:        logger,
		maxIterations: DefaultMaxIterations,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetDefaultMaxIterations 设置默认迭代上限
func (s *Store) SetDefaultMaxIterations(n int) {
	if n > 0 {
		s.maxIterations = n
	}
}

// Enqueue 写入一个 queued 任务
func (s *Store) Enqueue(ctx context.Context, req *EnqueueRequest) (*AgentJob, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("ownerID 不能为空")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("任务类型不能为空")
	}

	level := req.AutonomyLevel
	switch level {
	case AutonomyManual, AutonomySemi, AutonomyFull:
	case "":
		level = AutonomyManual
	default:
		return nil, fmt.Errorf("无效的自主级别: %s", level)
	}

	approved := level == AutonomyFull
	if req.Approved != nil {
		approved = *req.Approved
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = s.maxIterations
	}

	job := &AgentJob{
		OwnerID:       req.OwnerID,
		SessionID:     req.SessionID,
		Type:          req.Type,
		Payload:       req.Payload,
		Status:        StatusQueued,
		Approved:      approved,
		Iteration:     req.Iteration,
		MaxIterations: maxIter,
		AutonomyLevel: level,
		ParentJobID:   req.ParentJobID,
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	if approved {
		now := s.now()
		job.ApprovedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(job.Type, strconv.FormatBool(approved)).Inc()
	s.logger.Info("任务已入队",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("type", job.Type),
		zap.Bool("approved", approved),
		zap.Int("iteration", job.Iteration),
	)

	if approved {
		s.notify(ctx, job)
	}
	return job, nil
}

// ClaimNext 原子认领最早的已批准 queued 任务；没有可认领任务时返回 nil, nil
func (s *Store) ClaimNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*AgentJob, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		job, lost, err := s.tryClaim(ctx, workerID, leaseTTL)
		if err != nil {
			return nil, err
		}
		if job != nil {
			metrics.JobsClaimedTotal.WithLabelValues(workerID).Inc()
			return job, nil
		}
		if !lost {
			return nil, nil
		}
	}
	return nil, nil
}

// tryClaim lost 表示看到了候选任务但被其它 Worker 抢先
func (s *Store) tryClaim(ctx context.Context, workerID string, leaseTTL time.Duration) (*AgentJob, bool, error) {
	var claimed *AgentJob
	lost := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND approved = ?", StatusQueued, true).
			Order("created_at ASC").Order("id ASC")
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidate AgentJob
		if err := q.Take(&candidate).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := s.now()
		lease := now.Add(leaseTTL)
		res := tx.Model(&AgentJob{}).
			Where("id = ? AND status = ? AND approved = ?", candidate.ID, StatusQueued, true).
			Updates(map[string]any{
				"status":           StatusRunning,
				"worker_id":        workerID,
				"started_at":       now,
				"lease_expires_at": lease,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			lost = true
			return nil
		}

		candidate.Status = StatusRunning
		candidate.WorkerID = &workerID
		candidate.StartedAt = &now
		candidate.LeaseExpiresAt = &lease
		candidate.UpdatedAt = now
		claimed = &candidate
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("认领任务失败: %w", err)
	}
	return claimed, lost, nil
}

// Finalize 写入终态、结果与错误；已结束的任务返回 ErrJobTerminal
func (s *Store) Finalize(ctx context.Context, jobID, status string, result map[string]any, errMsg string) error {
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	now := s.now()
	updates := map[string]any{
		"status":           status,
		"finished_at":      now,
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if result != nil {
		updates["result"] = datatypes.JSONMap(result)
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}

	res := s.db.WithContext(ctx).Model(&AgentJob{}).
		Where("id = ? AND status IN ?", jobID, []string{StatusQueued, StatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新任务状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missingOrTerminal(ctx, jobID)
	}

	metrics.JobsFinalizedTotal.WithLabelValues(status).Inc()
	s.logger.Info("任务已结束",
		zap.String("job_id", jobID),
		zap.String("status", status),
		zap.String("error", errMsg),
	)
	return nil
}

// AttachFeedback 写入反馈分析，终态任务也允许
func (s *Store) AttachFeedback(ctx context.Context, jobID string, fb *FeedbackAnalysis) error {
	res := s.db.WithContext(ctx).Model(&AgentJob{}).
		Where("id = ?", jobID).
		Select("feedback", "updated_at").
		Updates(&AgentJob{Feedback: fb, UpdatedAt: s.now()})
	if res.Error != nil {
		return fmt.Errorf("写入反馈失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ApproveLatest 批准会话中最新的待审批任务；没有时返回 nil, nil
func (s *Store) ApproveLatest(ctx context.Context, ownerID, sessionID string) (*AgentJob, error) {
	var approved *AgentJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job AgentJob
		err := tx.Where("owner_id = ? AND session_id = ? AND status = ? AND approved = ?",
			ownerID, sessionID, StatusQueued, false).
			Order("created_at DESC").Order("id DESC").
			Take(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := s.now()
		res := tx.Model(&AgentJob{}).
			Where("id = ? AND status = ? AND approved = ?", job.ID, StatusQueued, false).
			Updates(map[string]any{"approved": true, "approved_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		job.Approved = true
		job.ApprovedAt = &now
		approved = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("批准任务失败: %w", err)
	}
	if approved == nil {
		return nil, nil
	}

	metrics.ApprovalsTotal.WithLabelValues("pending_job").Inc()
	s.logger.Info("任务已批准",
		zap.String("job_id", approved.ID),
		zap.String("session_id", sessionID),
	)
	s.notify(ctx, approved)
	return approved, nil
}

// Get 按 ID 获取任务，ownerID 为空时不校验归属
func (s *Store) Get(ctx context.Context, ownerID, jobID string) (*AgentJob, error) {
	q := s.db.WithContext(ctx).Where("id = ?", jobID)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var job AgentJob
	if err := q.Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &job, nil
}

// ListBySession 会话内的任务，按创建时间升序
func (s *Store) ListBySession(ctx context.Context, ownerID, sessionID string) ([]*AgentJob, error) {
	var list []*AgentJob
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND session_id = ?", ownerID, sessionID).
		Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询会话任务失败: %w", err)
	}
	return list, nil
}

// ListChildren 由某任务派生的迭代任务
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*AgentJob, error) {
	var list []*AgentJob
	err := s.db.WithContext(ctx).
		Where("parent_job_id = ?", parentID).
		Order("iteration ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询迭代任务失败: %w", err)
	}
	return list, nil
}

// RenewLease 续约；任务已被回收或换了 Worker 时返回 ErrLeaseLost
func (s *Store) RenewLease(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&AgentJob{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, StatusRunning).
		Updates(map[string]any{"lease_expires_at": now.Add(leaseTTL), "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("续约失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReclaimExpired 把租约已过期的 running 任务标记为失败并返回
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) ([]*AgentJob, error) {
	var expired []*AgentJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", StatusRunning, now).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("查询过期任务失败: %w", err)
	}

	reclaimed := make([]*AgentJob, 0, len(expired))
	for _, job := range expired {
		msg := "lease expired"
		res := s.db.WithContext(ctx).Model(&AgentJob{}).
			Where("id = ? AND status = ? AND lease_expires_at < ?", job.ID, StatusRunning, now).
			Updates(map[string]any{
				"status":           StatusFailed,
				"error":            msg,
				"finished_at":      now,
				"lease_expires_at": nil,
				"updated_at":       now,
			})
		if res.Error != nil {
			s.logger.Error("回收过期任务失败", zap.String("job_id", job.ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			// 期间已续约或已结束
			continue
		}
		job.Status = StatusFailed
		job.Error = &msg
		job.FinishedAt = &now
		job.LeaseExpiresAt = nil
		reclaimed = append(reclaimed, job)

		metrics.JobsReclaimedTotal.Inc()
		metrics.JobsFinalizedTotal.WithLabelValues(StatusFailed).Inc()
		s.logger.Warn("任务租约过期，已标记为失败",
			zap.String("job_id", job.ID),
			zap.Stringp("worker_id", job.WorkerID),
		)
	}
	return reclaimed, nil
}

func (s *Store) missingOrTerminal(ctx context.Context, jobID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AgentJob{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return fmt.Errorf("查询任务失败: %w", err)
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return ErrJobTerminal
}

func (s *Store) notify(ctx context.Context, job *AgentJob) {
	payload := tasks.JobReadyPayload{JobID: job.ID, OwnerID: job.OwnerID, Iteration: job.Iteration}
	if err := s.notifier.NotifyJobReady(ctx, payload); err != nil {
		// 通知失败不影响入队，Worker 轮询兜底
		s.logger.Warn("发送任务就绪通知失败", zap.String("job_id", job.ID), zap.Error(err))
	}
}
