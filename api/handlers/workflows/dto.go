package workflows

import (
	"agentdesk/internal/workflow"
)

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	Name            string              `json:"name" binding:"required"`
	Description     string              `json:"description"`
	TriggerKeywords []string            `json:"triggerKeywords"`
	Steps           []workflow.Step     `json:"steps" binding:"required,min=1,dive"`
	Options         workflow.RunOptions `json:"options"`
	Enabled         *bool               `json:"enabled"`
}

// CreateRuleRequest 创建意图规则请求
type CreateRuleRequest struct {
	Name     string          `json:"name" binding:"required"`
	Action   string          `json:"action" binding:"required"`
	Keywords []string        `json:"keywords" binding:"required,min=1"`
	Steps    []workflow.Step `json:"steps"`
	Config   map[string]any  `json:"config"`
	Enabled  *bool           `json:"enabled"`
}

// RunWorkflowRequest 手动执行工作流
type RunWorkflowRequest struct {
	AttachmentIDs []string `json:"attachmentIds"`
}

func enabledOrDefault(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}
