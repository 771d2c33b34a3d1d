package worker

import (
	"context"
	"time"

	"agentdesk/internal/jobs"

	"go.uber.org/zap"
)

// Reaper 回收租约过期的任务，仍有预算时派生迭代任务
type Reaper struct {
	store    *jobs.Store
	feedback *jobs.FeedbackController
	activity *jobs.ActivityLog
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewReaper 创建回收器
func NewReaper(store *jobs.Store, feedback *jobs.FeedbackController, activity *jobs.ActivityLog, interval time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		store:    store,
		feedback: feedback,
		activity: activity,
		interval: interval,
		logger:   logger.Named("reaper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run 定期扫描，直到 ctx 结束
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger.Error("回收过期任务失败", zap.Error(err))
			}
		}
	}
}

// ReapOnce 执行一轮回收，返回回收的任务数
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	reclaimed, err := r.store.ReclaimExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	for _, job := range reclaimed {
		r.activity.Record(ctx, job, jobs.EventReclaimed, nil)
		result := &jobs.JobResult{Success: false, Message: "lease expired"}
		_, child, err := r.feedback.Decide(ctx, job, result)
		if err != nil {
			r.logger.Error("回收任务的反馈处理失败", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if child != nil {
			r.activity.Record(ctx, child, jobs.EventIteration, map[string]any{"parentJobId": job.ID})
		}
	}
	return len(reclaimed), nil
}
