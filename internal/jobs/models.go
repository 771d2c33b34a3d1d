package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 任务状态
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// 自主级别
const (
	AutonomyManual = "manual"
	AutonomySemi   = "semi"
	AutonomyFull   = "full"
)

// 消息类型
const (
	MessageRequest  = "request"
	MessageResponse = "response"
	MessageFeedback = "feedback"
	MessageError    = "error"
)

// 载荷中约定的键
const (
	PayloadInstruction         = "instruction"
	PayloadPreviousInstruction = "previousInstruction"
	PayloadActions             = "actions"
	PayloadAttachmentIDs       = "attachmentIds"
	PayloadSuccessCriteria     = "successCriteria"
)

// TypeChatActions 由对话管线提出、等待执行的动作计划
const TypeChatActions = "chat_actions"

var (
	ErrJobNotFound    = errors.New("任务不存在")
	ErrJobTerminal    = errors.New("任务已结束")
	ErrInvalidStatus  = errors.New("无效的终态")
	ErrIterationLimit = errors.New("已达到最大迭代次数")
	ErrLeaseLost      = errors.New("任务租约已失效")
)

// AgentJob 后台任务
type AgentJob struct {
	ID             string            `json:"id" gorm:"primaryKey;size:64"`
	OwnerID        string            `json:"ownerId" gorm:"size:100;not null;index"`
	Type           string            `json:"type" gorm:"size:100;not null"`
	Payload        datatypes.JSONMap `json:"payload"`
	Status         string            `json:"status" gorm:"size:20;not null;index:idx_agent_job_claim,priority:1"`
	SessionID      string            `json:"sessionId,omitempty" gorm:"size:100;index"`
	Approved       bool              `json:"approved" gorm:"not null;index:idx_agent_job_claim,priority:2"`
	ApprovedAt     *time.Time        `json:"approvedAt,omitempty"`
	Iteration      int               `json:"iteration" gorm:"not null"`
	MaxIterations  int               `json:"maxIterations" gorm:"not null"`
	AutonomyLevel  string            `json:"autonomyLevel" gorm:"size:20;not null"`
	ParentJobID    *string           `json:"parentJobId,omitempty" gorm:"size:64;index"`
	WorkerID       *string           `json:"workerId,omitempty" gorm:"size:100"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	FinishedAt     *time.Time        `json:"finishedAt,omitempty"`
	LeaseExpiresAt *time.Time        `json:"leaseExpiresAt,omitempty" gorm:"index"`
	Result         datatypes.JSONMap `json:"result,omitempty"`
	Error          *string           `json:"error,omitempty" gorm:"type:text"`
	Feedback       *FeedbackAnalysis `json:"feedback,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time         `json:"createdAt" gorm:"not null;index:idx_agent_job_claim,priority:3"`
	UpdatedAt      time.Time         `json:"updatedAt" gorm:"not null"`
}

// TableName 表名
func (AgentJob) TableName() string { return "agent_jobs" }

// BeforeCreate 生成 ID 与时间戳
func (j *AgentJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	return nil
}

// IsTerminal 是否已结束
func (j *AgentJob) IsTerminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// CanIterate 是否还有迭代预算
func (j *AgentJob) CanIterate() bool {
	return j.Iteration < j.MaxIterations
}

// Instruction 载荷中的主指令
func (j *AgentJob) Instruction() string {
	s, _ := j.Payload[PayloadInstruction].(string)
	return s
}

// FeedbackAnalysis 对任务结果的评估，附加在任务记录上
type FeedbackAnalysis struct {
	Success     bool   `json:"success"`
	ReachedGoal bool   `json:"reachedGoal"`
	Reasoning   string `json:"reasoning"`
	NextStep    string `json:"nextStep,omitempty"`
}

// JobResult 任务执行结果
type JobResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"` // 产出的文件 ID
}

// ToMap 转为存储格式
func (r *JobResult) ToMap() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{"success": r.Success}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if len(r.Data) > 0 {
		m["data"] = r.Data
	}
	if len(r.Artifacts) > 0 {
		m["artifacts"] = r.Artifacts
	}
	return m
}

// AgentMessage 任务相关的消息，只追加；已读标记是唯一的修改
type AgentMessage struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	JobID       string    `json:"jobId" gorm:"size:64;not null;index"`
	FromAgent   string    `json:"fromAgent" gorm:"size:100;not null"`
	ToAgent     *string   `json:"toAgent,omitempty" gorm:"size:100;index"`
	MessageType string    `json:"messageType" gorm:"size:20;not null"`
	Content     string    `json:"content" gorm:"type:text"`
	Read        bool      `json:"read" gorm:"column:is_read;not null;default:false"`
	Seq         int64     `json:"-" gorm:"index"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;index"`
}

// TableName 表名
func (AgentMessage) TableName() string { return "agent_messages" }

// BeforeCreate 生成 ID 与时间戳
func (m *AgentMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Seq == 0 {
		m.Seq = m.CreatedAt.UnixNano()
	}
	return nil
}

// ActivityEntry 活动日志
type ActivityEntry struct {
	ID        string            `json:"id" gorm:"primaryKey;size:64"`
	OwnerID   string            `json:"ownerId" gorm:"size:100;not null;index"`
	JobID     string            `json:"jobId,omitempty" gorm:"size:64;index"`
	SessionID string            `json:"sessionId,omitempty" gorm:"size:100"`
	Event     string            `json:"event" gorm:"size:50;not null"`
	Detail    datatypes.JSONMap `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"createdAt" gorm:"not null;index"`
}

// TableName 表名
func (ActivityEntry) TableName() string { return "activity_log" }

// BeforeCreate 生成 ID 与时间戳
func (e *ActivityEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
