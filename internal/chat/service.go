package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentdesk/internal/intent"
	"agentdesk/internal/jobs"
	"agentdesk/internal/logger"
	"agentdesk/internal/metrics"
	"agentdesk/internal/tools"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"
	"agentdesk/pkg/aiinterface"

	"go.uber.org/zap"
)

// ErrEmptyTurn 空消息
var ErrEmptyTurn = errors.New("消息内容不能为空")

// Pipeline 对话/工具管线
type Pipeline interface {
	Complete(ctx context.Context, req *aiinterface.PipelineRequest) (*aiinterface.PipelineResponse, error)
}

// 回复类型
const (
	ReplyText            = "text"
	ReplyWorkflow        = "workflow"
	ReplyApprovalRequest = "approval_request"
	ReplyApproved        = "approved"
	ReplyQueued          = "queued"
)

// Turn 一轮用户输入
type Turn struct {
	OwnerID       string   `json:"-"`
	SessionID     string   `json:"sessionId"`
	Text          string   `json:"text"`
	AttachmentIDs []string `json:"attachmentIds,omitempty"`
	AutonomyLevel string   `json:"autonomyLevel,omitempty"`
}

// Reply 对一轮输入的回复
type Reply struct {
	Kind     string              `json:"kind"`
	Text     string              `json:"text"`
	Job      *jobs.AgentJob      `json:"job,omitempty"`
	Run      *executor.RunResult `json:"run,omitempty"`
	Workflow string              `json:"workflow,omitempty"` // 命中的工作流或规则名

	plan map[string]any
}

// Config 对话服务配置
type Config struct {
	SystemInstruction string
	HistoryLimit      int
	DefaultAutonomy   string
	MaxIterations     int
}

// Deps 对话服务依赖；Pipeline 为空时未命中自动化的输入只返回提示
type Deps struct {
	Pipeline  Pipeline
	Router    *intent.Router
	Workflows *workflow.Repository
	Executor  *executor.Executor
	Actions   tools.DeclarationProvider
	Jobs      *jobs.Store
	Activity  *jobs.ActivityLog
	History   HistoryStore
}

// Service 对话编排：批准口令、意图路由、对话管线与审批闸门
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewService 创建对话服务
func NewService(deps Deps, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.History == nil {
		deps.History = NewMemoryHistory(0)
	}
	if deps.Router == nil {
		deps.Router = intent.NewRouter(log)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.DefaultAutonomy == "" {
		cfg.DefaultAutonomy = jobs.AutonomyManual
	}
	return &Service{deps: deps, cfg: cfg, logger: log}
}

// HandleTurn 处理一轮输入
func (s *Service) HandleTurn(ctx context.Context, turn *Turn) (*Reply, error) {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return nil, ErrEmptyTurn
	}
	if turn.OwnerID == "" {
		return nil, fmt.Errorf("ownerID 不能为空")
	}
	if turn.SessionID == "" {
		turn.SessionID = turn.OwnerID
	}
	log := logger.FromContext(ctx, s.logger).With(
		zap.String("owner_id", turn.OwnerID),
		zap.String("session_id", turn.SessionID),
	)

	history, err := s.deps.History.Recent(ctx, turn.SessionID, s.cfg.HistoryLimit)
	if err != nil {
		log.Warn("读取会话历史失败，按空历史处理", zap.Error(err))
		history = nil
	}

	var reply *Reply
	if intent.IsApprovalPhrase(text) {
		if reply, err = s.handleApproval(ctx, turn, history, log); err != nil {
			return nil, err
		}
	}
	if reply == nil {
		reply = s.route(ctx, turn, text, log)
	}
	if reply == nil {
		if reply, err = s.propose(ctx, turn, text, history, log); err != nil {
			return nil, err
		}
	}

	s.remember(ctx, turn, reply, log)
	return reply, nil
}

// handleApproval 批准最新的待审批任务；没有时若上一轮助手在请求批准，则按那份计划重新入队并批准
func (s *Service) handleApproval(ctx context.Context, turn *Turn, history []HistoryEntry, log *zap.Logger) (*Reply, error) {
	job, err := s.deps.Jobs.ApproveLatest(ctx, turn.OwnerID, turn.SessionID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		s.deps.Activity.Record(ctx, job, jobs.EventApproved, map[string]any{"source": "chat"})
		log.Info("用户批准了待执行任务", zap.String("job_id", job.ID))
		return &Reply{Kind: ReplyApproved, Text: "已批准，任务将在后台执行。", Job: job}, nil
	}

	last := lastEntry(history)
	if last == nil || last.Role != "assistant" || !last.ApprovalRequest || len(last.Plan) == 0 {
		return nil, nil
	}

	approved := true
	job, err = s.deps.Jobs.Enqueue(ctx, &jobs.EnqueueRequest{
		OwnerID:       turn.OwnerID,
		SessionID:     turn.SessionID,
		Type:          jobs.TypeChatActions,
		Payload:       last.Plan,
		AutonomyLevel: s.autonomy(turn),
		Approved:      &approved,
		MaxIterations: s.cfg.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	metrics.ApprovalsTotal.WithLabelValues("replayed_plan").Inc()
	s.deps.Activity.Record(ctx, job, jobs.EventEnqueued, map[string]any{"approved": true, "source": "replayed_plan"})
	log.Info("按上一轮计划重新入队并批准", zap.String("job_id", job.ID))
	return &Reply{Kind: ReplyApproved, Text: "已批准，任务将在后台执行。", Job: job}, nil
}

// Match 只做意图路由，不执行
func (s *Service) Match(ctx context.Context, ownerID, text string) (intent.Route, error) {
	if s.deps.Workflows == nil {
		return intent.Route{Kind: intent.RouteNone}, nil
	}
	defs, err := s.deps.Workflows.ListDefinitions(ctx, ownerID)
	if err != nil {
		return intent.Route{}, err
	}
	rules, err := s.deps.Workflows.ListRules(ctx, ownerID)
	if err != nil {
		return intent.Route{}, err
	}
	return s.deps.Router.Route(strings.TrimSpace(text), defs, rules), nil
}

// route 命中工作流或规则时同步执行
func (s *Service) route(ctx context.Context, turn *Turn, text string, log *zap.Logger) *Reply {
	if s.deps.Executor == nil {
		return nil
	}
	r, err := s.Match(ctx, turn.OwnerID, text)
	if err != nil {
		log.Warn("加载自动化失败，跳过意图路由", zap.Error(err))
		return nil
	}

	req := executor.RunRequest{
		OwnerID: turn.OwnerID,
		Initial: map[string]any{},
	}
	if len(turn.AttachmentIDs) > 0 {
		req.Initial[tools.KeyAttachmentIDs] = turn.AttachmentIDs
	}

	switch r.Kind {
	case intent.RouteWorkflow:
		req.WorkflowID = r.Workflow.ID
		req.Name = r.Workflow.Name
		req.Steps = r.Workflow.Steps
		req.Options = r.Workflow.Options
	case intent.RouteRule:
		req.WorkflowID = r.Rule.ID
		req.Name = r.Rule.Name
		req.Steps = []workflow.Step{r.Rule.SingleStep()}
		req.Options = r.Rule.Options()
	default:
		return nil
	}

	log.Info("命中自动化",
		zap.String("kind", string(r.Kind)),
		zap.String("name", req.Name),
		zap.String("keyword", r.Match.Keyword),
	)
	res := s.deps.Executor.Run(ctx, req)
	return &Reply{Kind: ReplyWorkflow, Text: res.Summary(), Run: res, Workflow: req.Name}
}

// propose 交给对话管线；提出的动作按自主级别入队
func (s *Service) propose(ctx context.Context, turn *Turn, text string, history []HistoryEntry, log *zap.Logger) (*Reply, error) {
	if s.deps.Pipeline == nil {
		return &Reply{Kind: ReplyText, Text: "没有匹配的自动化，且未配置对话模型。"}, nil
	}

	var actions []aiinterface.Tool
	if s.deps.Actions != nil {
		actions = s.deps.Actions.Declarations()
	}
	resp, err := s.deps.Pipeline.Complete(ctx, &aiinterface.PipelineRequest{
		OwnerID:           turn.OwnerID,
		Utterance:         text,
		AttachmentIDs:     turn.AttachmentIDs,
		History:           toMessages(history),
		SystemInstruction: s.cfg.SystemInstruction,
		Actions:           actions,
		ExecutionAllowed:  false,
	})
	if err != nil {
		return nil, err
	}
	if !resp.HasActions() {
		return &Reply{Kind: ReplyText, Text: resp.Text}, nil
	}

	level := s.autonomy(turn)
	approved := s.policyApproves(level, resp.ProposedActions)
	plan := buildPlan(text, turn.AttachmentIDs, resp.ProposedActions)

	job, err := s.deps.Jobs.Enqueue(ctx, &jobs.EnqueueRequest{
		OwnerID:       turn.OwnerID,
		SessionID:     turn.SessionID,
		Type:          jobs.TypeChatActions,
		Payload:       plan,
		AutonomyLevel: level,
		Approved:      &approved,
		MaxIterations: s.cfg.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	s.deps.Activity.Record(ctx, job, jobs.EventEnqueued, map[string]any{"approved": approved, "autonomy": level})
	log.Info("对话管线提出动作，已入队",
		zap.String("job_id", job.ID),
		zap.Int("actions", len(resp.ProposedActions)),
		zap.Bool("approved", approved),
	)

	summary := planSummary(resp.Text, resp.ProposedActions)
	if approved {
		metrics.ApprovalsTotal.WithLabelValues("policy").Inc()
		return &Reply{Kind: ReplyQueued, Text: summary + "\n已自动批准，将在后台执行。", Job: job}, nil
	}
	return &Reply{
		Kind: ReplyApprovalRequest,
		Text: summary + "\n回复 “approve” 或 “ok” 开始执行。",
		Job:  job,
		plan: plan,
	}, nil
}

// policyApproves full 直接批准；semi 仅当没有需要审批的动作时批准；manual 从不
func (s *Service) policyApproves(level string, actions []aiinterface.ProposedAction) bool {
	switch level {
	case jobs.AutonomyFull:
		return true
	case jobs.AutonomySemi:
		if s.deps.Actions == nil {
			return false
		}
		for _, a := range actions {
			if s.deps.Actions.RequiresApproval(a.Name) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (s *Service) autonomy(turn *Turn) string {
	switch turn.AutonomyLevel {
	case jobs.AutonomyManual, jobs.AutonomySemi, jobs.AutonomyFull:
		return turn.AutonomyLevel
	}
	return s.cfg.DefaultAutonomy
}

func (s *Service) remember(ctx context.Context, turn *Turn, reply *Reply, log *zap.Logger) {
	now := time.Now().UTC()
	assistant := HistoryEntry{
		Role:            "assistant",
		Content:         reply.Text,
		ApprovalRequest: reply.Kind == ReplyApprovalRequest,
		Plan:            reply.plan,
		CreatedAt:       now,
	}
	if reply.Job != nil {
		assistant.JobID = reply.Job.ID
	}
	err := s.deps.History.Append(ctx, turn.SessionID,
		HistoryEntry{Role: "user", Content: turn.Text, CreatedAt: now},
		assistant,
	)
	if err != nil {
		log.Warn("写入会话历史失败", zap.Error(err))
	}
}

func lastEntry(history []HistoryEntry) *HistoryEntry {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

func buildPlan(instruction string, attachmentIDs []string, actions []aiinterface.ProposedAction) map[string]any {
	list := make([]any, 0, len(actions))
	for _, a := range actions {
		entry := map[string]any{"name": a.Name}
		if len(a.Args) > 0 {
			entry["args"] = a.Args
		}
		list = append(list, entry)
	}
	plan := map[string]any{
		jobs.PayloadInstruction: instruction,
		jobs.PayloadActions:     list,
	}
	if len(attachmentIDs) > 0 {
		ids := make([]any, len(attachmentIDs))
		for i, id := range attachmentIDs {
			ids[i] = id
		}
		plan[jobs.PayloadAttachmentIDs] = ids
	}
	return plan
}

func planSummary(text string, actions []aiinterface.ProposedAction) string {
	var b strings.Builder
	if t := strings.TrimSpace(text); t != "" {
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("计划执行以下动作：")
	for i, a := range actions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, a.Name)
		if len(a.Args) > 0 {
			fmt.Fprintf(&b, " %s", formatArgs(a.Args))
		}
	}
	return b.String()
}
