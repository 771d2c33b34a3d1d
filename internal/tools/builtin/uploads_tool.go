package builtin

import (
	"context"
	"fmt"
	"time"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

// UploadsTool 列出最近上传、尚未归档的附件
type UploadsTool struct {
	svc    *workspace.Service
	window time.Duration
}

// NewUploadsTool window 为默认回看时长
func NewUploadsTool(svc *workspace.Service, window time.Duration) *UploadsTool {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &UploadsTool{svc: svc, window: window}
}

// GetDefinition 工具定义
func (t *UploadsTool) GetDefinition() *tools.Definition {
	return &tools.Definition{
		Name:        tools.ActionListRecentUploads,
		Description: "列出最近上传且仍在根目录的图片或文档",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"withinMinutes": map[string]any{"type": "integer", "description": "回看分钟数"},
			},
		},
	}
}

// Validate 校验参数
func (t *UploadsTool) Validate(input map[string]any) error {
	if n := tools.IntArg(input, tools.KeyWithinMinutes, 0); n < 0 {
		return fmt.Errorf("withinMinutes 不能为负数")
	}
	return nil
}

// Execute 执行工具
func (t *UploadsTool) Execute(ctx context.Context, ownerID string, input map[string]any) (tools.Result, error) {
	window := t.window
	if n := tools.IntArg(input, tools.KeyWithinMinutes, 0); n > 0 {
		window = time.Duration(n) * time.Minute
	}
	items, err := t.svc.RecentOrphans(ctx, ownerID, window)
	if err != nil {
		return tools.Result{}, err
	}

	ids := make([]string, 0, len(items))
	files := make([]map[string]any, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
		files = append(files, map[string]any{"id": item.ID, "name": item.Name, "mimeType": item.MimeType})
	}
	return tools.OK(fmt.Sprintf("找到 %d 个最近上传的附件", len(ids)), map[string]any{
		tools.KeyAttachmentIDs: ids,
		"files":                files,
	}), nil
}
