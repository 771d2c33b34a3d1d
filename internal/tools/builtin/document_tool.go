package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

// DocumentTool 生成 Markdown 或 HTML 文件
type DocumentTool struct {
	svc         *workspace.Service
	action      string
	ext         string
	mimeType    string
	defaultName string
}

// NewMarkdownTool Markdown 文件
func NewMarkdownTool(svc *workspace.Service) *DocumentTool {
	return &DocumentTool{svc: svc, action: tools.ActionCreateMarkdown, ext: ".md", mimeType: "text/markdown", defaultName: "Summary"}
}

// NewHTMLTool HTML 文件
func NewHTMLTool(svc *workspace.Service) *DocumentTool {
	return &DocumentTool{svc: svc, action: tools.ActionCreateHTML, ext: ".html", mimeType: "text/html", defaultName: "index"}
}

// GetDefinition 工具定义
func (t *DocumentTool) GetDefinition() *tools.Definition {
	kind := "Markdown"
	if t.ext == ".html" {
		kind = "HTML"
	}
	return &tools.Definition{
		Name:        t.action,
		Description: fmt.Sprintf("在文件夹中创建 %s 文件", kind),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":     map[string]any{"type": "string", "description": "文件名"},
				"title":    map[string]any{"type": "string", "description": "标题，未给文件名时用于命名"},
				"content":  map[string]any{"type": "string", "description": "文件内容"},
				"folderId": map[string]any{"type": "string", "description": "目标文件夹 ID，缺省为根目录"},
			},
			"required": []string{"content"},
		},
	}
}

// Validate 校验参数
func (t *DocumentTool) Validate(input map[string]any) error {
	if tools.StringArg(input, tools.KeyContent) == "" && tools.StringArg(input, tools.KeyTitle) == "" {
		return errors.New("content 与 title 不能同时为空")
	}
	return nil
}

// Execute 执行工具
func (t *DocumentTool) Execute(ctx context.Context, ownerID string, input map[string]any) (tools.Result, error) {
	title := tools.StringArg(input, tools.KeyTitle)
	name := tools.StringArg(input, tools.KeyName)
	if name == "" {
		name = title
	}
	if name == "" {
		name = t.defaultName
	}
	name = workspace.EnsureExtension(workspace.SanitizeName(name), t.ext)

	content, _ := input[tools.KeyContent].(string)
	if strings.TrimSpace(content) == "" && t.ext == ".md" {
		content = "# " + title + "\n"
	}

	folderID := optionalID(input, tools.KeyFolderID)
	file, err := t.svc.CreateFile(ctx, &workspace.CreateFileRequest{
		OwnerID:  ownerID,
		ParentID: folderID,
		Name:     name,
		MimeType: t.mimeType,
		Content:  []byte(content),
		Metadata: map[string]any{"generatedBy": t.action},
	})
	if errors.Is(err, workspace.ErrItemNotFound) || errors.Is(err, workspace.ErrNotFolder) {
		return tools.Fail("目标文件夹不存在"), nil
	}
	if err != nil {
		return tools.Result{}, err
	}

	data := map[string]any{
		tools.KeyFileID: file.ID,
		"fileName":      file.Name,
	}
	if folderID != nil {
		data[tools.KeyFolderID] = *folderID
	}
	return tools.OK(fmt.Sprintf("已创建文件「%s」", file.Name), data), nil
}
