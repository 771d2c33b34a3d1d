package builtin

import (
	"time"

	"agentdesk/internal/tools"
	"agentdesk/internal/workspace"
)

type definedHandler interface {
	tools.Handler
	GetDefinition() *tools.Definition
}

// RegisterAll 注册所有内置工作区动作
func RegisterAll(registry *tools.Registry, svc *workspace.Service, recoveryWindow time.Duration) error {
	handlers := []definedHandler{
		NewFolderTool(svc),
		NewMarkdownTool(svc),
		NewHTMLTool(svc),
		NewMoveTool(svc),
		NewCopyTool(svc),
		NewHighlightTool(svc),
		NewUploadsTool(svc, recoveryWindow),
	}
	for _, h := range handlers {
		def := h.GetDefinition()
		if err := registry.RegisterBuiltin(def.Name, h, def); err != nil {
			return err
		}
	}
	return nil
}
