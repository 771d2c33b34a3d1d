package tasks

// Task Types
const (
	// TypeJobReady 有新的已批准任务可认领，仅用于唤醒 Worker，认领仍以数据库为准
	TypeJobReady = "agentjob:ready"
)

// JobReadyPayload 唤醒任务载荷
type JobReadyPayload struct {
	JobID     string `json:"job_id"`
	OwnerID   string `json:"owner_id"`
	Iteration int    `json:"iteration"`
}
