package builtin

import (
	"context"
	"errors"
	"fmt"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

// TransferTool 把附件移动或复制到文件夹
type TransferTool struct {
	svc      *workspace.Service
	copyMode bool
}

// NewMoveTool 移动附件
func NewMoveTool(svc *workspace.Service) *TransferTool {
	return &TransferTool{svc: svc}
}

// NewCopyTool 复制附件
func NewCopyTool(svc *workspace.Service) *TransferTool {
	return &TransferTool{svc: svc, copyMode: true}
}

func (t *TransferTool) action() string {
	if t.copyMode {
		return tools.ActionCopyAttachments
	}
	return tools.ActionMoveAttachments
}

// GetDefinition 工具定义；移动会改变用户文件位置，需要批准
func (t *TransferTool) GetDefinition() *tools.Definition {
	verb := "移动"
	if t.copyMode {
		verb = "复制"
	}
	return &tools.Definition{
		Name:             t.action(),
		Description:      fmt.Sprintf("将附件%s到指定文件夹", verb),
		RequiresApproval: !t.copyMode,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"folderId":      map[string]any{"type": "string", "description": "目标文件夹 ID"},
				"attachmentIds": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"folderId", "attachmentIds"},
		},
	}
}

// Validate 校验参数
func (t *TransferTool) Validate(input map[string]any) error {
	if tools.StringArg(input, tools.KeyFolderID) == "" {
		return tools.ErrMissingArg(tools.KeyFolderID)
	}
	if len(tools.StringSliceArg(input, tools.KeyAttachmentIDs)) == 0 {
		return tools.ErrMissingArg(tools.KeyAttachmentIDs)
	}
	return nil
}

// Execute 执行工具
func (t *TransferTool) Execute(ctx context.Context, ownerID string, input map[string]any) (tools.Result, error) {
	folderID := tools.StringArg(input, tools.KeyFolderID)
	ids := tools.StringSliceArg(input, tools.KeyAttachmentIDs)

	var (
		done []string
		err  error
		key  = tools.KeyMovedIDs
		verb = "移动"
	)
	if t.copyMode {
		done, err = t.svc.CopyItems(ctx, ownerID, ids, folderID)
		key, verb = tools.KeyCopiedIDs, "复制"
	} else {
		done, err = t.svc.MoveItems(ctx, ownerID, ids, folderID)
	}
	switch {
	case errors.Is(err, workspace.ErrItemNotFound), errors.Is(err, workspace.ErrNotFolder):
		return tools.Fail("目标文件夹不存在: %s", folderID), nil
	case err != nil:
		return tools.Result{}, err
	}
	if len(done) == 0 {
		return tools.Fail("没有找到可%s的附件", verb), nil
	}

	return tools.OK(fmt.Sprintf("已%s %d 个附件", verb, len(done)), map[string]any{
		tools.KeyFolderID: folderID,
		key:               done,
	}), nil
}
