package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 意图匹配指标
var (
	// IntentMatchesTotal 按结果类型统计的匹配次数（workflow, rule, none）
	IntentMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_intent_matches_total",
			Help: "意图匹配次数",
		},
		[]string{"kind", "reason"},
	)
)

// 工作流执行指标
var (
	// WorkflowRunsTotal 工作流执行次数
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_workflow_runs_total",
			Help: "工作流执行次数",
		},
		[]string{"status"}, // succeeded, failed, paused
	)

	// WorkflowStepDuration 单个步骤耗时（秒）
	WorkflowStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdesk_workflow_step_duration_seconds",
			Help:    "工作流步骤耗时分布",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"action"},
	)

	// ImplicitTransfersTotal 工作流结束时的隐式移动/复制次数
	ImplicitTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_workflow_implicit_transfers_total",
			Help: "隐式附件转移次数",
		},
		[]string{"mode", "trigger"},
	)
)

// 动作分发指标
var (
	// ActionDispatchTotal 动作分发次数
	ActionDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_action_dispatch_total",
			Help: "动作分发次数",
		},
		[]string{"action", "status"}, // success, failed, not_found, error
	)
)

// 后台任务指标
var (
	// JobsEnqueuedTotal 入队任务数
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_jobs_enqueued_total",
			Help: "入队任务数",
		},
		[]string{"type", "approved"},
	)

	// JobsClaimedTotal 被认领的任务数
	JobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_jobs_claimed_total",
			Help: "被认领的任务数",
		},
		[]string{"worker_id"},
	)

	// JobsFinalizedTotal 终结的任务数
	JobsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_jobs_finalized_total",
			Help: "终结的任务数",
		},
		[]string{"status"},
	)

	// JobIterationsTotal 迭代任务数
	JobIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_job_iterations_total",
			Help: "反馈控制器生成的迭代任务数",
		},
		[]string{"type"},
	)

	// JobDuration 任务执行耗时（秒）
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdesk_job_duration_seconds",
			Help:    "任务执行耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"type", "status"},
	)

	// JobsReclaimedTotal 因租约过期被回收的任务数
	JobsReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdesk_jobs_reclaimed_total",
			Help: "租约过期回收的任务数",
		},
	)

	// ApprovalsTotal 审批次数
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_job_approvals_total",
			Help: "任务审批次数",
		},
		[]string{"source"}, // pending_job, replayed_plan, policy
	)
)
