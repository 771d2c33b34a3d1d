package tools

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Definition 动作声明：名称即对模型公开的函数名
type Definition struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Parameters       map[string]any `json:"parameters"` // JSON Schema
	RequiresApproval bool           `json:"requiresApproval"`
	Status           string         `json:"status"` // active, disabled
}

// Result 动作执行结果，预期内的失败也用 Success=false 表达
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Paused  bool           `json:"paused,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK 成功结果
func OK(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail 失败结果
func Fail(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Pause 需要用户决定后才能继续
func Pause(message string, data map[string]any) Result {
	return Result{Success: false, Paused: true, Message: message, Data: data}
}

// ToMap 转为扁平键值，供上下文合并与 JSON 存储
func (r Result) ToMap() map[string]any {
	m := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.Paused {
		m["paused"] = true
	}
	return m
}

// NotFoundError 动作 ID 既不是内置意图也不是已注册工具
type NotFoundError struct {
	Action string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("未找到动作: %s", e.Action)
}

// ActionExecution 动作执行记录
type ActionExecution struct {
	ID           string         `json:"id" gorm:"primaryKey;size:64"`
	OwnerID      string         `json:"ownerId" gorm:"size:100;not null;index"`
	ActionID     string         `json:"actionId" gorm:"size:100;not null"`
	ResolvedName string         `json:"resolvedName" gorm:"size:100"`
	Input        map[string]any `json:"input" gorm:"type:jsonb;serializer:json"`
	Output       map[string]any `json:"output" gorm:"type:jsonb;serializer:json"`
	ErrorMessage *string        `json:"errorMessage,omitempty" gorm:"type:text"`
	Status       string         `json:"status" gorm:"size:50;not null"` // success, failed, paused, not_found
	StartedAt    time.Time      `json:"startedAt" gorm:"not null"`
	Duration     int64          `json:"duration"` // 毫秒
	CreatedAt    time.Time      `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 表名
func (ActionExecution) TableName() string { return "action_executions" }

// BeforeCreate 生成 ID
func (e *ActionExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
