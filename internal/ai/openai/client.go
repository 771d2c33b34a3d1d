package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"agentdesk/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 客户端适配器
type Client struct {
	client     *openai.Client
	modelID    string
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	model := config.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		modelID:    model,
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}, nil
}

// Model 使用的模型
func (c *Client) Model() string { return c.modelID }

// ChatCompletion 对话补全（非流式），支持 Function Calling
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	openaiReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
	}
	if len(openaiReq.Tools) > 0 {
		openaiReq.ToolChoice = req.ToolChoice
		if openaiReq.ToolChoice == nil {
			openaiReq.ToolChoice = "auto"
		}
	}

	// 调用 API（带重试）
	var resp openai.ChatCompletionResponse
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.CreateChatCompletion(ctx, openaiReq)
		if err == nil {
			break
		}
		if !wrapError(err).IsRetryable() || i == c.maxRetries {
			break
		}

		// 指数退避
		select {
		case <-ctx.Done():
			return nil, wrapError(ctx.Err())
		case <-time.After(c.backoff(i)):
		}
	}
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	msg := resp.Choices[0].Message
	out := &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: msg.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, aiinterface.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: aiinterface.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "openai"
}

func toOpenAIMessages(msgs []aiinterface.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out[i] = m
	}
	return out
}

func toOpenAITools(tools []aiinterface.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

// wrapError 按 HTTP 状态码归类错误
func wrapError(err error) *aiinterface.ClientError {
	var clientErr *aiinterface.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	errType := aiinterface.ErrorTypeUnknown
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		errType = aiinterface.ErrorTypeNetwork
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = aiinterface.ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		errType = aiinterface.ErrorTypeRateLimit
	case status >= 400 && status < 500:
		errType = aiinterface.ErrorTypeInvalidParams
	case status >= 500:
		errType = aiinterface.ErrorTypeServerError
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: fmt.Sprintf("OpenAI API 错误 (status=%d)", status),
		Err:     err,
	}
}
