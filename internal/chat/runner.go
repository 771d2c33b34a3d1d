package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"agentdesk/internal/jobs"
	"agentdesk/internal/logger"
	"agentdesk/internal/tools"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"
	"agentdesk/pkg/aiinterface"

	"go.uber.org/zap"
)

// ErrNoExecutor 未配置执行器
var ErrNoExecutor = errors.New("未配置工作流执行器")

// RunJob 后台执行一个已批准的任务。
// 首轮任务直接执行载荷中已批准的动作；迭代任务重新询问对话管线（允许执行）后执行其提出的动作。
func (s *Service) RunJob(ctx context.Context, job *jobs.AgentJob) (*jobs.JobResult, error) {
	if s.deps.Executor == nil {
		return nil, ErrNoExecutor
	}
	log := logger.FromContext(ctx, s.logger).With(
		zap.String("job_id", job.ID),
		zap.Int("iteration", job.Iteration),
	)

	attachments := stringList(job.Payload[jobs.PayloadAttachmentIDs])
	steps := stepsFromPayload(job.Payload[jobs.PayloadActions])

	if job.Iteration > 0 || len(steps) == 0 {
		if s.deps.Pipeline == nil {
			return nil, errors.New("未配置对话模型，无法规划后续动作")
		}
		resp, err := s.replan(ctx, job, attachments)
		if err != nil {
			return nil, err
		}
		if !resp.HasActions() {
			log.Info("对话管线未提出动作，任务以文本回复结束")
			return &jobs.JobResult{Success: true, Message: resp.Text}, nil
		}
		steps = steps[:0]
		for _, a := range resp.ProposedActions {
			steps = append(steps, workflow.Step{Action: a.Name, Params: a.Args})
		}
	}

	req := executor.RunRequest{
		OwnerID:    job.OwnerID,
		WorkflowID: job.ID,
		Name:       job.Type,
		Steps:      steps,
		Initial:    map[string]any{},
	}
	if len(attachments) > 0 {
		req.Initial[tools.KeyAttachmentIDs] = attachments
	}
	res := s.deps.Executor.Run(ctx, req)
	log.Info("任务动作执行完成",
		zap.Int("steps", len(res.Steps)),
		zap.Bool("success", res.Success),
		zap.Bool("paused", res.Paused),
	)
	return resultFromRun(res), nil
}

func (s *Service) replan(ctx context.Context, job *jobs.AgentJob, attachments []string) (*aiinterface.PipelineResponse, error) {
	utterance := job.Instruction()
	if prev, _ := job.Payload[jobs.PayloadPreviousInstruction].(string); prev != "" {
		utterance = fmt.Sprintf("原始请求：%s\n下一步：%s", prev, utterance)
	}

	var history []HistoryEntry
	if job.SessionID != "" {
		h, err := s.deps.History.Recent(ctx, job.SessionID, s.cfg.HistoryLimit)
		if err != nil {
			s.logger.Warn("读取会话历史失败", zap.String("job_id", job.ID), zap.Error(err))
		}
		history = h
	}

	var actions []aiinterface.Tool
	if s.deps.Actions != nil {
		actions = s.deps.Actions.Declarations()
	}
	return s.deps.Pipeline.Complete(ctx, &aiinterface.PipelineRequest{
		OwnerID:           job.OwnerID,
		Utterance:         utterance,
		AttachmentIDs:     attachments,
		History:           toMessages(history),
		SystemInstruction: s.cfg.SystemInstruction,
		Actions:           actions,
		ExecutionAllowed:  true,
	})
}

// resultFromRun 暂停也视为未完成，交给反馈环节决定是否迭代
func resultFromRun(res *executor.RunResult) *jobs.JobResult {
	out := &jobs.JobResult{
		Success: res.Success && !res.Paused,
		Message: res.Summary(),
		Data:    res.FinalContext,
	}
	seen := map[string]bool{}
	add := func(v any) {
		if id, ok := v.(string); ok && id != "" && !seen[id] {
			seen[id] = true
			out.Artifacts = append(out.Artifacts, id)
		}
	}
	for _, st := range res.Steps {
		if st.Success {
			add(st.Data[tools.KeyFileID])
		}
	}
	add(res.FinalContext[tools.KeyFileID])
	return out
}

// stepsFromPayload 解析载荷中的动作列表，元素为 {name, args}
func stepsFromPayload(raw any) []workflow.Step {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	steps := make([]workflow.Step, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		args, _ := m["args"].(map[string]any)
		steps = append(steps, workflow.Step{Action: name, Params: args})
	}
	return steps
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// formatArgs 按键排序输出参数，便于用户核对
func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprint(args[k]))
		}
		parts = append(parts, k+"="+string(v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
