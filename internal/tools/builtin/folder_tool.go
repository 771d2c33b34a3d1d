package builtin

import (
	"context"
	"errors"
	"fmt"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

// FolderTool 新建文件夹
type FolderTool struct {
	svc *workspace.Service
}

// NewFolderTool 构造函数
func NewFolderTool(svc *workspace.Service) *FolderTool {
	return &FolderTool{svc: svc}
}

// GetDefinition 工具定义
func (t *FolderTool) GetDefinition() *tools.Definition {
	return &tools.Definition{
		Name:        tools.ActionCreateFolder,
		Description: "在工作区新建文件夹；同名时按 onConflict 复用、重命名或询问用户",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":       map[string]any{"type": "string", "description": "文件夹名称"},
				"parentId":   map[string]any{"type": "string", "description": "父文件夹 ID，缺省为根目录"},
				"onConflict": map[string]any{"type": "string", "enum": []string{"reuse", "rename", "ask"}},
			},
			"required": []string{"name"},
		},
	}
}

// Validate 校验参数
func (t *FolderTool) Validate(input map[string]any) error {
	if tools.StringArg(input, tools.KeyName) == "" {
		return errors.New("文件夹名称不能为空")
	}
	switch tools.StringArg(input, tools.KeyOnConflict) {
	case "", workspace.ConflictReuse, workspace.ConflictRename, workspace.ConflictAsk:
		return nil
	default:
		return fmt.Errorf("不支持的 onConflict: %s", tools.StringArg(input, tools.KeyOnConflict))
	}
}

// Execute 执行工具
func (t *FolderTool) Execute(ctx context.Context, ownerID string, input map[string]any) (tools.Result, error) {
	name := tools.StringArg(input, tools.KeyName)
	res, err := t.svc.CreateFolder(ctx, &workspace.CreateFolderRequest{
		OwnerID:    ownerID,
		ParentID:   optionalID(input, tools.KeyParentID),
		Name:       name,
		OnConflict: tools.StringArg(input, tools.KeyOnConflict),
	})
	switch {
	case errors.Is(err, workspace.ErrNameConflict):
		return tools.Pause(
			fmt.Sprintf("已存在名为「%s」的文件夹。请回复复用已有文件夹还是新建一个重命名的文件夹。", name),
			map[string]any{tools.KeyFolderName: name},
		), nil
	case errors.Is(err, workspace.ErrItemNotFound), errors.Is(err, workspace.ErrNotFolder):
		return tools.Fail("父文件夹不存在"), nil
	case err != nil:
		return tools.Result{}, err
	}

	msg := fmt.Sprintf("已创建文件夹「%s」", res.Folder.Name)
	if res.Reused {
		msg = fmt.Sprintf("已复用文件夹「%s」", res.Folder.Name)
	}
	return tools.OK(msg, map[string]any{
		tools.KeyFolderID:   res.Folder.ID,
		tools.KeyFolderName: res.Folder.Name,
		tools.KeyReused:     res.Reused,
	}), nil
}

func optionalID(input map[string]any, key string) *string {
	id := tools.StringArg(input, key)
	if id == "" {
		return nil
	}
	return &id
}
