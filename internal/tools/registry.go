package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"agentdesk/pkg/aiinterface"
)

// Handler 动作处理器
type Handler interface {
	// Execute 执行动作；预期内的失败通过 Result 返回，error 只用于意外故障
	Execute(ctx context.Context, ownerID string, args map[string]any) (Result, error)

	// Validate 校验参数，失败时调用方得到 Success=false
	Validate(args map[string]any) error
}

type entry struct {
	handler Handler
	def     *Definition
}

// Registry 两张独立的表：内置意图按 ID 注册，工具按声明的 schema 名注册并保留 ID 索引
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]entry  // intent id -> entry
	tools    map[string]entry  // schema name -> entry
	toolIDs  map[string]string // tool id -> schema name
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		builtins: make(map[string]entry),
		tools:    make(map[string]entry),
		toolIDs:  make(map[string]string),
	}
}

// RegisterBuiltin 注册内置意图
func (r *Registry) RegisterBuiltin(id string, handler Handler, def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builtins[id]; exists {
		return fmt.Errorf("内置意图 %s 已注册", id)
	}
	if def == nil {
		def = &Definition{ID: id, Name: id}
	}
	if def.Status == "" {
		def.Status = "active"
	}
	r.builtins[id] = entry{handler: handler, def: def}
	return nil
}

// RegisterTool 注册工具；def.Name 为 schema 名，可与 id 不同
func (r *Registry) RegisterTool(id string, handler Handler, def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("工具 %s 缺少 schema 名", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("工具 %s 已注册", def.Name)
	}
	if def.Status == "" {
		def.Status = "active"
	}
	def.ID = id
	r.tools[def.Name] = entry{handler: handler, def: def}
	if id != "" {
		r.toolIDs[id] = def.Name
	}
	return nil
}

// Unregister 移除工具
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tools[name]; ok {
		delete(r.toolIDs, e.def.ID)
		delete(r.tools, name)
	}
	delete(r.builtins, name)
}

// Resolve 按 内置意图 ID -> 工具 schema 名 -> 工具 ID 的顺序解析
func (r *Registry) Resolve(actionID string) (Handler, *Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.builtins[actionID]; ok {
		return e.handler, e.def, nil
	}
	if e, ok := r.tools[actionID]; ok {
		return e.handler, e.def, nil
	}
	if name, ok := r.toolIDs[actionID]; ok {
		if e, ok := r.tools[name]; ok {
			return e.handler, e.def, nil
		}
	}
	return nil, nil, &NotFoundError{Action: actionID}
}

// RequiresApproval 动作是否需要用户批准；未知动作一律视为需要
func (r *Registry) RequiresApproval(actionID string) bool {
	_, def, err := r.Resolve(actionID)
	if err != nil {
		return true
	}
	return def.RequiresApproval
}

// List 列出所有启用的声明，按名称排序
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.builtins)+len(r.tools))
	for _, e := range r.builtins {
		if e.def.Status == "active" {
			defs = append(defs, e.def)
		}
	}
	for _, e := range r.tools {
		if e.def.Status == "active" {
			defs = append(defs, e.def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Declarations 转为 Function Calling 格式
func (r *Registry) Declarations() []aiinterface.Tool {
	defs := r.List()
	tools := make([]aiinterface.Tool, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, aiinterface.Tool{
			Type: "function",
			Function: aiinterface.FunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// Count 注册数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.builtins) + len(r.tools)
}
