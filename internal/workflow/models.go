package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionWorkflow 意图规则的 action 为该值时等价于一个多步骤工作流
const ActionWorkflow = "workflow"

// Step 工作流步骤，写入定义后不可变
type Step struct {
	Action string         `json:"action" yaml:"action"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Flag 读取步骤上的布尔标记（moveAfterward / copyAfterward 等）
func (s Step) Flag(name string) bool {
	v, ok := s.Params[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// RunOptions 规则/工作流级别的执行选项
type RunOptions struct {
	MoveAttachments bool `json:"moveAttachments,omitempty" yaml:"moveAttachments,omitempty"`
	CopyAttachments bool `json:"copyAttachments,omitempty" yaml:"copyAttachments,omitempty"`
}

// Definition 工作流定义（用户编写或内置），执行期间只读
type Definition struct {
	ID              string     `json:"id" yaml:"id" gorm:"primaryKey;size:64"`
	OwnerID         string     `json:"ownerId" yaml:"-" gorm:"size:100;not null;index"`
	Name            string     `json:"name" yaml:"name" gorm:"size:255;not null"`
	Description     string     `json:"description,omitempty" yaml:"description,omitempty" gorm:"type:text"`
	TriggerKeywords []string   `json:"triggerKeywords" yaml:"triggerKeywords" gorm:"type:jsonb;serializer:json"`
	Steps           []Step     `json:"steps" yaml:"steps" gorm:"type:jsonb;serializer:json"`
	Options         RunOptions `json:"options" yaml:"options" gorm:"type:jsonb;serializer:json"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	BuiltIn         bool       `json:"builtIn" yaml:"-" gorm:"-"`
	CreatedAt       time.Time  `json:"createdAt" yaml:"-" gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time  `json:"updatedAt" yaml:"-" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (Definition) TableName() string { return "workflow_definitions" }

// BeforeCreate 生成 ID
func (d *Definition) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// IntentRule 单动作自动化规则；Action 为 "workflow" 时带步骤
type IntentRule struct {
	ID        string         `json:"id" yaml:"id" gorm:"primaryKey;size:64"`
	OwnerID   string         `json:"ownerId" yaml:"-" gorm:"size:100;not null;index"`
	Name      string         `json:"name" yaml:"name" gorm:"size:255;not null"`
	Action    string         `json:"action" yaml:"action" gorm:"size:100;not null"`
	Keywords  []string       `json:"keywords" yaml:"keywords" gorm:"type:jsonb;serializer:json"`
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Steps     []Step         `json:"steps,omitempty" yaml:"steps,omitempty" gorm:"type:jsonb;serializer:json"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty" gorm:"type:jsonb;serializer:json"`
	BuiltIn   bool           `json:"builtIn" yaml:"-" gorm:"-"`
	CreatedAt time.Time      `json:"createdAt" yaml:"-" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time      `json:"updatedAt" yaml:"-" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (IntentRule) TableName() string { return "intent_rules" }

// BeforeCreate 生成 ID
func (r *IntentRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// IsWorkflow action=workflow 的规则按工作流执行
func (r *IntentRule) IsWorkflow() bool {
	return r.Action == ActionWorkflow
}

// Options 从规则配置中读取执行选项
func (r *IntentRule) Options() RunOptions {
	return RunOptions{
		MoveAttachments: configBool(r.Config, "moveAttachments"),
		CopyAttachments: configBool(r.Config, "copyAttachments"),
	}
}

// AsDefinition 将工作流型规则视为工作流定义
func (r *IntentRule) AsDefinition() *Definition {
	return &Definition{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		TriggerKeywords: r.Keywords,
		Steps:           r.Steps,
		Options:         r.Options(),
		Enabled:         r.Enabled,
		BuiltIn:         r.BuiltIn,
	}
}

// SingleStep 非工作流规则执行时的唯一步骤，参数来自 config.params
func (r *IntentRule) SingleStep() Step {
	params, _ := r.Config["params"].(map[string]any)
	return Step{Action: r.Action, Params: params}
}

func configBool(cfg map[string]any, key string) bool {
	if cfg == nil {
		return false
	}
	b, ok := cfg[key].(bool)
	return ok && b
}
