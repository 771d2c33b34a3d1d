package executor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"agentdesk/internal/logger"
	"agentdesk/internal/metrics"
	"agentdesk/internal/tools"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workspace"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecoverySource 附件恢复时查询最近的孤立上传
type RecoverySource interface {
	RecentOrphans(ctx context.Context, ownerID string, window time.Duration) ([]*workspace.Item, error)
}

// Config 执行器配置
type Config struct {
	FolderPrefix   string
	RecoveryWindow time.Duration
}

// Executor 顺序执行工作流步骤，步骤之间通过 ExecutionContext 传递状态
type Executor struct {
	dispatcher tools.ActionDispatcher
	recovery   RecoverySource
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New 创建执行器；recovery 为 nil 时不做附件恢复
func New(dispatcher tools.ActionDispatcher, recovery RecoverySource, cfg Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 15 * time.Minute
	}
	return &Executor{
		dispatcher: dispatcher,
		recovery:   recovery,
		cfg:        cfg,
		logger:     log,
		tracer:     otel.Tracer("agentdesk/internal/workflow/executor"),
		now:        time.Now,
	}
}

// RunRequest 一次执行
type RunRequest struct {
	OwnerID         string
	WorkflowID      string
	Name            string
	Steps           []workflow.Step
	Initial         map[string]any
	Options         workflow.RunOptions
	DisableRecovery bool
}

// StepResult 单个步骤（或隐式转移）的结果
type StepResult struct {
	Index    int            `json:"index"`
	Action   string         `json:"action"`
	Success  bool           `json:"success"`
	Paused   bool           `json:"paused,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Duration time.Duration  `json:"duration"`
	Trigger  string         `json:"trigger,omitempty"` // 仅隐式转移：corrective, move_flag, copy_flag, stranded
}

// RunResult 执行结果。Steps 只包含实际执行的声明步骤
type RunResult struct {
	Success      bool           `json:"success"`
	Paused       bool           `json:"paused,omitempty"`
	Message      string         `json:"message,omitempty"`
	Steps        []StepResult   `json:"steps"`
	Transfers    []StepResult   `json:"transfers,omitempty"`
	FinalContext map[string]any `json:"finalContext"`
}

// runState 单次执行内的跟踪信息
type runState struct {
	req            *RunRequest
	ec             *ExecutionContext
	prevFileID     string // 紧邻上一步产生的文件
	transferRan    bool
	folderResolved bool
}

// Run 执行工作流。任何步骤失败即停止，已完成的步骤不回滚
func (e *Executor) Run(ctx context.Context, req RunRequest) *RunResult {
	ctx, span := e.tracer.Start(ctx, "Executor.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner_id", req.OwnerID),
		attribute.String("workflow_id", req.WorkflowID),
		attribute.Int("steps", len(req.Steps)),
	)

	log := logger.FromContext(ctx, e.logger).With(
		zap.String("owner_id", req.OwnerID),
		zap.String("workflow", req.Name),
	)

	st := &runState{req: &req, ec: NewExecutionContext(req.Initial)}
	result := &RunResult{Success: true, Steps: make([]StepResult, 0, len(req.Steps))}

	for i, step := range req.Steps {
		sr := e.runStep(ctx, st, i, step, log)
		result.Steps = append(result.Steps, sr)
		if sr.Success {
			continue
		}

		result.Success = false
		result.Message = sr.Message
		if sr.Paused {
			result.Paused = true
			log.Info("工作流暂停，等待用户决定", zap.Int("step", i), zap.String("action", sr.Action))
			break
		}
		log.Warn("工作流步骤失败，停止执行",
			zap.Int("step", i),
			zap.String("action", sr.Action),
			zap.String("message", sr.Message))
		if t := e.correctiveTransfer(ctx, st, step, log); t != nil {
			result.Transfers = append(result.Transfers, *t)
		}
		break
	}

	// 中途停止的运行只做补救转移
	if result.Success && !st.transferRan {
		if t := e.implicitTransfer(ctx, st, log); t != nil {
			result.Transfers = append(result.Transfers, *t)
		}
	}

	result.FinalContext = st.ec.Snapshot()
	status := "succeeded"
	switch {
	case result.Paused:
		status = "paused"
	case !result.Success:
		status = "failed"
		span.SetStatus(codes.Error, result.Message)
	}
	metrics.WorkflowRunsTotal.WithLabelValues(status).Inc()
	log.Info("工作流执行结束", zap.String("status", status), zap.Int("executed_steps", len(result.Steps)))
	return result
}

func (e *Executor) runStep(ctx context.Context, st *runState, index int, step workflow.Step, log *zap.Logger) StepResult {
	sr := StepResult{Index: index, Action: step.Action}
	if step.Action == "" {
		sr.Message = fmt.Sprintf("第 %d 步缺少 action", index+1)
		return sr
	}

	ctx, span := e.tracer.Start(ctx, "Step:"+step.Action)
	defer span.End()
	span.SetAttributes(attribute.Int("index", index))

	// 上下文为底，声明参数覆盖同名键
	args := st.ec.ToArgs()
	for k, v := range step.Params {
		args[k] = v
	}
	e.applyDefaults(ctx, st, step, args, log)

	started := time.Now()
	res, err := e.dispatcher.Dispatch(ctx, st.req.OwnerID, step.Action, args)
	sr.Duration = time.Since(started)
	metrics.WorkflowStepDuration.WithLabelValues(step.Action).Observe(sr.Duration.Seconds())

	sr.Success = res.Success && err == nil
	sr.Paused = res.Paused
	sr.Message = res.Message
	sr.Data = res.Data
	if err != nil {
		var nf *tools.NotFoundError
		if errors.As(err, &nf) {
			sr.Message = nf.Error()
		}
		span.RecordError(err)
	}
	if tools.IsTransfer(step.Action) {
		st.transferRan = true
	}
	if !sr.Success {
		span.SetStatus(codes.Error, sr.Message)
		return sr
	}

	st.ec.Absorb(res.Data)
	if p := tools.StringArg(args, tools.KeyOnConflict); p != "" {
		st.ec.ConflictPolicy = p
	}
	if tools.StringArg(res.Data, tools.KeyFolderID) != "" {
		st.folderResolved = true
	}
	st.prevFileID = tools.StringArg(res.Data, tools.KeyFileID)
	return sr
}

// applyDefaults 按动作类型补齐参数
func (e *Executor) applyDefaults(ctx context.Context, st *runState, step workflow.Step, args map[string]any, log *zap.Logger) {
	ec := st.ec
	switch step.Action {
	case tools.ActionCreateFolder:
		if tools.StringArg(step.Params, tools.KeyName) == "" || tools.BoolArg(step.Params, tools.KeyAutoName) {
			prefix := tools.StringArg(step.Params, tools.KeyFolderPrefix)
			if prefix == "" {
				prefix = e.cfg.FolderPrefix
			}
			args[tools.KeyName] = workspace.AutoFolderName(prefix, e.now())
		}
		if tools.StringArg(args, tools.KeyOnConflict) == "" && ec.ConflictPolicy != "" {
			args[tools.KeyOnConflict] = ec.ConflictPolicy
		}

	case tools.ActionMoveAttachments, tools.ActionCopyAttachments:
		if tools.StringArg(args, tools.KeyFolderID) == "" && ec.FolderID != "" {
			args[tools.KeyFolderID] = ec.FolderID
		}
		if tools.StringArg(args, tools.KeyOnConflict) == "" && ec.ConflictPolicy != "" {
			args[tools.KeyOnConflict] = ec.ConflictPolicy
		}
		if len(tools.StringSliceArg(args, tools.KeyAttachmentIDs)) == 0 {
			if ids := e.resolveAttachmentIDs(ctx, st, log); len(ids) > 0 {
				args[tools.KeyAttachmentIDs] = ids
			}
		}

	case tools.ActionHighlightFile:
		if tools.StringArg(step.Params, tools.KeyFileID) != "" {
			return
		}
		switch {
		case st.prevFileID != "":
			args[tools.KeyFileID] = st.prevFileID
		case len(ec.LastProcessedFileIDs) > 0:
			args[tools.KeyFileID] = ec.LastProcessedFileIDs[0]
		default:
			delete(args, tools.KeyFileID)
			if st.req.DisableRecovery {
				return
			}
			if ids := e.recoverOrphans(ctx, st.req.OwnerID, log); len(ids) > 0 {
				args[tools.KeyFileID] = ids[len(ids)-1]
			}
		}

	case tools.ActionCreateMarkdown:
		if tools.StringArg(args, tools.KeyFolderID) == "" && ec.FolderID != "" {
			args[tools.KeyFolderID] = ec.FolderID
		}

	case tools.ActionCreateHTML:
		if tools.StringArg(args, tools.KeyFolderID) == "" && ec.FolderID != "" {
			args[tools.KeyFolderID] = ec.FolderID
		}
		if tools.StringArg(step.Params, tools.KeyContent) == "" {
			title := tools.StringArg(step.Params, tools.KeyTitle)
			if title == "" {
				title = tools.StringArg(ec.Extra, tools.KeyFolderName)
			}
			if title == "" {
				title = st.req.Name
			}
			args[tools.KeyContent] = htmlBoilerplate(title)
		}
	}
}

// correctiveTransfer 步骤失败后的一次补救转移：已建立文件夹且声明了转移标记时执行
func (e *Executor) correctiveTransfer(ctx context.Context, st *runState, failed workflow.Step, log *zap.Logger) *StepResult {
	if st.ec.FolderID == "" || !st.folderResolved {
		return nil
	}
	action := ""
	switch {
	case failed.Flag(tools.KeyMoveAfterward) || st.req.Options.MoveAttachments:
		action = tools.ActionMoveAttachments
	case failed.Flag(tools.KeyCopyAfterward) || st.req.Options.CopyAttachments:
		action = tools.ActionCopyAttachments
	default:
		return nil
	}
	ids := e.resolveAttachmentIDs(ctx, st, log)
	if len(ids) == 0 {
		return nil
	}
	return e.transfer(ctx, st, action, ids, "corrective", log)
}

// implicitTransfer 工作流结束时把附件转移到已建立的文件夹，避免附件滞留在根目录。
// 触发条件按以下顺序取第一个满足的：移动标记、复制标记、上下文中仍有原始附件。
// 这是启发式规则，依赖它的工作流需要重新验证，不要当作分层策略扩展
func (e *Executor) implicitTransfer(ctx context.Context, st *runState, log *zap.Logger) *StepResult {
	if st.ec.FolderID == "" || !st.folderResolved {
		return nil
	}
	var action, trigger string
	switch {
	case st.req.Options.MoveAttachments || anyFlag(st.req.Steps, tools.KeyMoveAfterward):
		action, trigger = tools.ActionMoveAttachments, "move_flag"
	case st.req.Options.CopyAttachments || anyFlag(st.req.Steps, tools.KeyCopyAfterward):
		action, trigger = tools.ActionCopyAttachments, "copy_flag"
	case len(st.ec.AttachmentIDs) > 0:
		action, trigger = tools.ActionMoveAttachments, "stranded"
	default:
		return nil
	}
	ids := e.resolveAttachmentIDs(ctx, st, log)
	if len(ids) == 0 {
		return nil
	}
	return e.transfer(ctx, st, action, ids, trigger, log)
}

func (e *Executor) transfer(ctx context.Context, st *runState, action string, ids []string, trigger string, log *zap.Logger) *StepResult {
	args := map[string]any{
		tools.KeyFolderID:      st.ec.FolderID,
		tools.KeyAttachmentIDs: ids,
	}
	started := time.Now()
	res, err := e.dispatcher.Dispatch(ctx, st.req.OwnerID, action, args)
	st.transferRan = true

	mode := "move"
	if action == tools.ActionCopyAttachments {
		mode = "copy"
	}
	metrics.ImplicitTransfersTotal.WithLabelValues(mode, trigger).Inc()

	sr := &StepResult{
		Index:    -1,
		Action:   action,
		Success:  res.Success && err == nil,
		Message:  res.Message,
		Data:     res.Data,
		Duration: time.Since(started),
		Trigger:  trigger,
	}
	if sr.Success {
		st.ec.Absorb(res.Data)
		log.Info("附件已隐式转移", zap.String("mode", mode), zap.String("trigger", trigger), zap.Int("count", len(ids)))
	} else {
		log.Warn("附件隐式转移失败", zap.String("mode", mode), zap.String("trigger", trigger), zap.String("message", res.Message))
	}
	return sr
}

// resolveAttachmentIDs 优先使用上下文中的附件；允许恢复时回退到最近的孤立上传
func (e *Executor) resolveAttachmentIDs(ctx context.Context, st *runState, log *zap.Logger) []string {
	if len(st.ec.AttachmentIDs) > 0 {
		return append([]string(nil), st.ec.AttachmentIDs...)
	}
	if st.req.DisableRecovery {
		return nil
	}
	return e.recoverOrphans(ctx, st.req.OwnerID, log)
}

// recoverOrphans 尽力而为的恢复查询，任何错误都返回空
func (e *Executor) recoverOrphans(ctx context.Context, ownerID string, log *zap.Logger) (ids []string) {
	if e.recovery == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("附件恢复异常", zap.Any("panic", r))
			ids = nil
		}
	}()
	items, err := e.recovery.RecentOrphans(ctx, ownerID, e.cfg.RecoveryWindow)
	if err != nil {
		log.Warn("附件恢复查询失败", zap.Error(err))
		return nil
	}
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if len(ids) > 0 {
		log.Info("使用最近上传的附件作为替代", zap.Int("count", len(ids)))
	}
	return ids
}

func anyFlag(steps []workflow.Step, flag string) bool {
	for _, s := range steps {
		if s.Flag(flag) {
			return true
		}
	}
	return false
}

func htmlBoilerplate(title string) string {
	if title == "" {
		title = "Untitled"
	}
	t := html.EscapeString(title)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
</head>
<body>
  <h1>%s</h1>
</body>
</html>
`, t, t)
}
