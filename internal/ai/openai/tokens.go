package openai

import (
	"sync"

	"agentdesk/pkg/aiinterface"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 估算一段文本的 Token 数
type TokenCounter func(text string) int

var encodings sync.Map // model -> *tiktoken.Tiktoken

// TiktokenCounter 按模型选择编码，未识别的模型回退到 cl100k_base；编码不可用时按字符数粗估
func TiktokenCounter(model string) TokenCounter {
	return func(text string) int {
		if v, ok := encodings.Load(model); ok {
			return len(v.(*tiktoken.Tiktoken).Encode(text, nil, nil))
		}
		tkm, err := tiktoken.EncodingForModel(model)
		if err != nil {
			tkm, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			return len([]rune(text))/2 + 1
		}
		encodings.Store(model, tkm)
		return len(tkm.Encode(text, nil, nil))
	}
}

// 每条消息的角色等固定开销
const messageOverhead = 4

// TrimHistoryByTokens 从最旧的消息开始丢弃，直到总 Token 不超过 maxTokens；最新一条总是保留
func TrimHistoryByTokens(history []aiinterface.Message, maxTokens int, count TokenCounter) []aiinterface.Message {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}

	tokens := make([]int, len(history))
	total := 0
	for i, msg := range history {
		tokens[i] = count(msg.Content) + messageOverhead
		total += tokens[i]
	}

	start := 0
	for total > maxTokens && start < len(history)-1 {
		total -= tokens[start]
		start++
	}
	return history[start:]
}
