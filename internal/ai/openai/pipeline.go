package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentdesk/pkg/aiinterface"

	"go.uber.org/zap"
)

const (
	approvalNotice  = "提出的动作需要用户批准后才会执行。请通过函数调用提出完整的动作计划，不要假设已经执行。"
	executionNotice = "用户已批准执行。请通过函数调用完成任务。"
)

// Pipeline 基于 Chat Completion 的对话管线：返回文本或提出的动作
type Pipeline struct {
	client      aiinterface.ModelClient
	tokenBudget int
	counter     TokenCounter
	logger      *zap.Logger
}

// NewPipeline 创建对话管线；tokenBudget<=0 时不裁剪历史
func NewPipeline(client aiinterface.ModelClient, model string, tokenBudget int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client:      client,
		tokenBudget: tokenBudget,
		counter:     TiktokenCounter(model),
		logger:      logger,
	}
}

// Complete 执行一轮对话
func (p *Pipeline) Complete(ctx context.Context, req *aiinterface.PipelineRequest) (*aiinterface.PipelineResponse, error) {
	messages := p.buildMessages(req)

	resp, err := p.client.ChatCompletion(ctx, &aiinterface.ChatCompletionRequest{
		Messages:    messages,
		Temperature: 0.2,
		Tools:       req.Actions,
	})
	if err != nil {
		return nil, fmt.Errorf("对话补全失败: %w", err)
	}

	out := &aiinterface.PipelineResponse{Text: resp.Content}
	for _, tc := range resp.ToolCalls {
		action := aiinterface.ProposedAction{Name: tc.Function.Name}
		if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
			if err := json.Unmarshal([]byte(args), &action.Args); err != nil {
				p.logger.Warn("动作参数不是合法 JSON，按空参数处理",
					zap.String("action", action.Name),
					zap.Error(err),
				)
				action.Args = nil
			}
		}
		out.ProposedActions = append(out.ProposedActions, action)
	}

	p.logger.Debug("对话补全完成",
		zap.String("owner_id", req.OwnerID),
		zap.Int("history", len(req.History)),
		zap.Int("proposed_actions", len(out.ProposedActions)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return out, nil
}

func (p *Pipeline) buildMessages(req *aiinterface.PipelineRequest) []aiinterface.Message {
	system := strings.TrimSpace(req.SystemInstruction)
	notice := approvalNotice
	if req.ExecutionAllowed {
		notice = executionNotice
	}
	if system != "" {
		system += "\n\n"
	}
	system += notice

	history := TrimHistoryByTokens(req.History, p.tokenBudget, p.counter)

	messages := make([]aiinterface.Message, 0, len(history)+2)
	messages = append(messages, aiinterface.Message{Role: "system", Content: system})
	messages = append(messages, history...)

	user := req.Utterance
	if len(req.AttachmentIDs) > 0 {
		user += "\n\n附件 ID: " + strings.Join(req.AttachmentIDs, ", ")
	}
	messages = append(messages, aiinterface.Message{Role: "user", Content: user})
	return messages
}
