package executor

import (
	"agentdesk/internal/tools"
)

// ExecutionContext 单次工作流执行的上下文。
// 执行器自身读取的字段是显式类型，其余动作相关的值放在 Extra。
// 只追加或覆盖，步骤失败时不回滚
type ExecutionContext struct {
	FolderID             string         // 最近一次创建或解析出的文件夹
	AttachmentIDs        []string       // 调用方传入的附件
	LastProcessedFileIDs []string       // 最近一次移动/复制产生的文件
	ConflictPolicy       string         // 最近一次使用的重名策略
	Extra                map[string]any // 其它键值
}

// NewExecutionContext 由调用方的初始值构建上下文
func NewExecutionContext(initial map[string]any) *ExecutionContext {
	ec := &ExecutionContext{Extra: make(map[string]any)}
	ec.Absorb(initial)
	return ec
}

// Absorb 合并键值；约定键写入类型化字段，其余写入 Extra
func (c *ExecutionContext) Absorb(values map[string]any) {
	for k, v := range values {
		switch k {
		case tools.KeyFolderID:
			if id := tools.StringArg(values, k); id != "" {
				c.FolderID = id
			}
		case tools.KeyAttachmentIDs:
			c.AttachmentIDs = tools.StringSliceArg(values, k)
		case tools.KeyMovedIDs, tools.KeyCopiedIDs:
			if ids := tools.StringSliceArg(values, k); len(ids) > 0 {
				c.LastProcessedFileIDs = ids
			}
			c.Extra[k] = v
		case tools.KeyOnConflict:
			if p := tools.StringArg(values, k); p != "" {
				c.ConflictPolicy = p
			}
		default:
			c.Extra[k] = v
		}
	}
}

// ToArgs 作为步骤参数的底稿，步骤声明的参数随后覆盖同名键
func (c *ExecutionContext) ToArgs() map[string]any {
	args := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		args[k] = v
	}
	if c.FolderID != "" {
		args[tools.KeyFolderID] = c.FolderID
	}
	if len(c.AttachmentIDs) > 0 {
		args[tools.KeyAttachmentIDs] = append([]string(nil), c.AttachmentIDs...)
	}
	return args
}

// Snapshot 导出全部上下文，用于返回给调用方
func (c *ExecutionContext) Snapshot() map[string]any {
	out := c.ToArgs()
	if len(c.LastProcessedFileIDs) > 0 {
		out["lastProcessedFileIds"] = append([]string(nil), c.LastProcessedFileIDs...)
	}
	if c.ConflictPolicy != "" {
		out[tools.KeyOnConflict] = c.ConflictPolicy
	}
	return out
}
