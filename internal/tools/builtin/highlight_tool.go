package builtin

import (
	"context"
	"errors"
	"fmt"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

// HighlightTool 高亮文件
type HighlightTool struct {
	svc *workspace.Service
}

// NewHighlightTool 构造函数
func NewHighlightTool(svc *workspace.Service) *HighlightTool {
	return &HighlightTool{svc: svc}
}

// GetDefinition 工具定义
func (t *HighlightTool) GetDefinition() *tools.Definition {
	return &tools.Definition{
		Name:        tools.ActionHighlightFile,
		Description: "在工作区中高亮一个文件",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileId": map[string]any{"type": "string", "description": "文件 ID"},
			},
			"required": []string{"fileId"},
		},
	}
}

// Validate 校验参数
func (t *HighlightTool) Validate(input map[string]any) error {
	if tools.StringArg(input, tools.KeyFileID) == "" {
		return tools.ErrMissingArg(tools.KeyFileID)
	}
	return nil
}

// Execute 执行工具
func (t *HighlightTool) Execute(ctx context.Context, ownerID string, input map[string]any) (tools.Result, error) {
	item, err := t.svc.Highlight(ctx, ownerID, tools.StringArg(input, tools.KeyFileID))
	if errors.Is(err, workspace.ErrItemNotFound) {
		return tools.Fail("文件不存在"), nil
	}
	if err != nil {
		return tools.Result{}, err
	}
	return tools.OK(fmt.Sprintf("已高亮「%s」", item.Name), map[string]any{tools.KeyFileID: item.ID}), nil
}
