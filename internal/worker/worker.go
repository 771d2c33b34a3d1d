package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"agentdesk/internal/jobs"
	"agentdesk/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("agentdesk/internal/worker")

// JobRunner 执行一个已认领的任务
type JobRunner interface {
	RunJob(ctx context.Context, job *jobs.AgentJob) (*jobs.JobResult, error)
}

// Config Worker 配置
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// Worker 单循环的任务消费者：每次只认领并执行一个任务
type Worker struct {
	store    *jobs.Store
	feedback *jobs.FeedbackController
	comm     *jobs.Communicator
	activity *jobs.ActivityLog
	runner   JobRunner
	cfg      Config
	logger   *zap.Logger
	wake     chan struct{}
}

// Deps Worker 依赖；Communicator 与 ActivityLog 可以为空
type Deps struct {
	Store    *jobs.Store
	Feedback *jobs.FeedbackController
	Comm     *jobs.Communicator
	Activity *jobs.ActivityLog
	Runner   JobRunner
}

// New 创建 Worker
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	return &Worker{
		store:    deps.Store,
		feedback: deps.Feedback,
		comm:     deps.Comm,
		activity: deps.Activity,
		runner:   deps.Runner,
		cfg:      cfg,
		logger:   logger.With(zap.String("worker_id", cfg.WorkerID)),
		wake:     make(chan struct{}, 1),
	}
}

// ID Worker 标识
func (w *Worker) ID() string { return w.cfg.WorkerID }

// Wake 立即触发一轮认领，不阻塞
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run 轮询直到 ctx 结束；单个任务出错不会让循环退出
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker 已启动",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("lease_ttl", w.cfg.LeaseTTL),
	)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker 已停止")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
		w.drain(ctx)
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("处理任务出错", zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessNext 认领并执行一个任务；没有可认领任务时返回 false
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx, w.cfg.WorkerID, w.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "worker.ProcessNext")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.Int("job.iteration", job.Iteration),
	)

	log := w.logger.With(zap.String("job_id", job.ID), zap.Int("iteration", job.Iteration))
	log.Info("已认领任务", zap.String("type", job.Type))
	w.activity.Record(ctx, job, jobs.EventClaimed, map[string]any{"workerId": w.cfg.WorkerID})
	w.notify(ctx, job, jobs.MessageRequest, job.Instruction())

	start := time.Now()
	result, runErr := w.runWithLease(ctx, job)

	// 关闭期间也要写完终态
	finishCtx := context.WithoutCancel(ctx)

	status := jobs.StatusSucceeded
	errMsg := ""
	switch {
	case runErr != nil:
		status = jobs.StatusFailed
		errMsg = runErr.Error()
		result = &jobs.JobResult{Success: false, Message: errMsg}
	case result == nil:
		status = jobs.StatusFailed
		errMsg = "任务没有返回结果"
		result = &jobs.JobResult{Success: false, Message: errMsg}
	case !result.Success:
		status = jobs.StatusFailed
		errMsg = result.Message
	}
	if status == jobs.StatusFailed {
		span.SetStatus(codes.Error, errMsg)
	}
	metrics.JobDuration.WithLabelValues(job.Type, status).Observe(time.Since(start).Seconds())

	if err := w.store.Finalize(finishCtx, job.ID, status, result.ToMap(), errMsg); err != nil {
		if errors.Is(err, jobs.ErrJobTerminal) {
			// 租约已被回收，反馈与迭代由回收方处理
			log.Warn("任务已被回收，丢弃本次结果")
			return true, nil
		}
		return true, fmt.Errorf("写入任务终态失败: %w", err)
	}
	job.Status = status
	w.activity.Record(finishCtx, job, jobs.EventFinalized, map[string]any{"status": status, "error": errMsg})
	if status == jobs.StatusSucceeded {
		w.notify(finishCtx, job, jobs.MessageResponse, result.Message)
	} else {
		w.notify(finishCtx, job, jobs.MessageError, errMsg)
	}

	analysis, child, err := w.feedback.Decide(finishCtx, job, result)
	if err != nil {
		log.Error("反馈处理失败", zap.Error(err))
	}
	if analysis != nil {
		w.notify(finishCtx, job, jobs.MessageFeedback, analysis.Reasoning)
	}
	if child != nil {
		w.activity.Record(finishCtx, child, jobs.EventIteration, map[string]any{"parentJobId": job.ID})
		w.Wake()
	}

	log.Info("任务处理完成",
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("iteration_created", child != nil),
	)
	return true, nil
}

// runWithLease 执行任务并定期续约
func (w *Worker) runWithLease(ctx context.Context, job *jobs.AgentJob) (*jobs.JobResult, error) {
	renewCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.renewLease(renewCtx, job.ID)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()
	return w.safeRun(ctx, job)
}

func (w *Worker) renewLease(ctx context.Context, jobID string) {
	interval := w.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.RenewLease(ctx, jobID, w.cfg.WorkerID, w.cfg.LeaseTTL); err != nil {
				if errors.Is(err, jobs.ErrLeaseLost) {
					w.logger.Warn("任务租约已失效", zap.String("job_id", jobID))
					return
				}
				if ctx.Err() == nil {
					w.logger.Warn("续约失败", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}
	}
}

// safeRun 捕获执行中的 panic，转为任务失败
func (w *Worker) safeRun(ctx context.Context, job *jobs.AgentJob) (result *jobs.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("任务执行 panic",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.runner.RunJob(ctx, job)
}

func (w *Worker) notify(ctx context.Context, job *jobs.AgentJob, msgType, content string) {
	if w.comm == nil {
		return
	}
	w.comm.Notify(ctx, job.ID, w.cfg.WorkerID, msgType, content)
}
