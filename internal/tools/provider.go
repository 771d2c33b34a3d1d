package tools

import (
	"context"

	"agentdesk/pkg/aiinterface"
)

// DeclarationProvider 对话管线所需的动作声明
type DeclarationProvider interface {
	Declarations() []aiinterface.Tool
	RequiresApproval(actionID string) bool
}

// ActionDispatcher 统一的动作调用入口
type ActionDispatcher interface {
	Dispatch(ctx context.Context, ownerID, actionID string, args map[string]any) (Result, error)
}

var (
	_ DeclarationProvider = (*Registry)(nil)
	_ ActionDispatcher    = (*Dispatcher)(nil)
)
