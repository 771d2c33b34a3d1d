package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"agentdesk/internal/metrics"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
)

// NextStepRetry 执行失败时建议的下一步
const NextStepRetry = "retry with corrected parameters"

// Verifier 对成功结果做进一步核验
type Verifier interface {
	Name() string
	Verify(ctx context.Context, job *AgentJob, result *JobResult) (ok bool, reason string, err error)
}

// FeedbackController 评估任务结果并决定是否派生迭代任务
type FeedbackController struct {
	store     *Store
	verifiers []Verifier
	logger    *zap.Logger
}

// NewFeedbackController 创建反馈控制器；没有核验器时成功即视为达成目标
func NewFeedbackController(store *Store, logger *zap.Logger, verifiers ...Verifier) *FeedbackController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackController{store: store, verifiers: verifiers, logger: logger}
}

// Analyze 计算反馈分析
func (c *FeedbackController) Analyze(ctx context.Context, job *AgentJob, result *JobResult) *FeedbackAnalysis {
	if result == nil || !result.Success {
		msg := "无结果"
		if result != nil && result.Message != "" {
			msg = result.Message
		}
		return &FeedbackAnalysis{
			Success:     false,
			ReachedGoal: false,
			Reasoning:   fmt.Sprintf("执行失败: %s", msg),
			NextStep:    NextStepRetry,
		}
	}

	for _, v := range c.verifiers {
		ok, reason, err := v.Verify(ctx, job, result)
		if err != nil {
			// 核验器自身出错时不阻断，按未核验处理
			c.logger.Warn("结果核验出错",
				zap.String("job_id", job.ID),
				zap.String("verifier", v.Name()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			return &FeedbackAnalysis{
				Success:     true,
				ReachedGoal: false,
				Reasoning:   fmt.Sprintf("%s 核验未通过: %s", v.Name(), reason),
				NextStep:    fmt.Sprintf("complete the remaining work: %s", reason),
			}
		}
	}

	return &FeedbackAnalysis{
		Success:     true,
		ReachedGoal: true,
		Reasoning:   "执行成功，已达成目标",
	}
}

// CreateIterationJob 派生迭代任务：替换主指令、迭代次数加一、自动批准
// payload 为空时沿用父任务载荷
func (c *FeedbackController) CreateIterationJob(ctx context.Context, parent *AgentJob, nextAction string, payload map[string]any) (*AgentJob, error) {
	if !parent.CanIterate() {
		return nil, ErrIterationLimit
	}
	if payload == nil {
		payload = parent.Payload
	}

	next := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		next[k] = v
	}
	if prev := parent.Instruction(); prev != "" {
		next[PayloadPreviousInstruction] = prev
	}
	next[PayloadInstruction] = nextAction

	approved := true
	parentID := parent.ID
	child, err := c.store.Enqueue(ctx, &EnqueueRequest{
		OwnerID:       parent.OwnerID,
		SessionID:     parent.SessionID,
		Type:          parent.Type,
		Payload:       next,
		AutonomyLevel: parent.AutonomyLevel,
		Approved:      &approved,
		MaxIterations: parent.MaxIterations,
		Iteration:     parent.Iteration + 1,
		ParentJobID:   &parentID,
	})
	if err != nil {
		return nil, err
	}

	metrics.JobIterationsTotal.WithLabelValues(parent.Type).Inc()
	c.logger.Info("已派生迭代任务",
		zap.String("parent_job_id", parent.ID),
		zap.String("job_id", child.ID),
		zap.Int("iteration", child.Iteration),
		zap.Int("max_iterations", child.MaxIterations),
	)
	return child, nil
}

// Decide 分析结果、写入反馈，未达成目标且仍有预算时派生迭代任务
func (c *FeedbackController) Decide(ctx context.Context, job *AgentJob, result *JobResult) (*FeedbackAnalysis, *AgentJob, error) {
	analysis := c.Analyze(ctx, job, result)
	if err := c.store.AttachFeedback(ctx, job.ID, analysis); err != nil {
		return analysis, nil, err
	}
	job.Feedback = analysis

	if analysis.ReachedGoal {
		return analysis, nil, nil
	}

	child, err := c.CreateIterationJob(ctx, job, analysis.NextStep, nil)
	if errors.Is(err, ErrIterationLimit) {
		c.logger.Info("迭代次数已用尽，不再派生任务",
			zap.String("job_id", job.ID),
			zap.Int("iteration", job.Iteration),
		)
		return analysis, nil, nil
	}
	if err != nil {
		return analysis, nil, err
	}
	return analysis, child, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ExpressionVerifier 用 payload.successCriteria 表达式核验结果
// 可用变量：success、message、artifactCount 以及 data 中的字段，{{a.b}} 访问嵌套字段
type ExpressionVerifier struct{}

// Name 核验器名称
func (ExpressionVerifier) Name() string { return "expression" }

// Verify 没有表达式时通过
func (ExpressionVerifier) Verify(_ context.Context, job *AgentJob, result *JobResult) (bool, string, error) {
	expr, _ := job.Payload[PayloadSuccessCriteria].(string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, "", nil
	}

	vars := map[string]any{
		"success":       result.Success,
		"message":       result.Message,
		"artifactCount": float64(len(result.Artifacts)),
	}
	for k, v := range result.Data {
		vars[k] = normalizeNumber(v)
	}

	params := make(map[string]any)
	processed := placeholderPattern.ReplaceAllStringFunc(expr, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		name := fmt.Sprintf("var%d", len(params))
		params[name] = lookupPath(vars, path)
		return name
	})

	expression, err := govaluate.NewEvaluableExpression(processed)
	if err != nil {
		return false, "", fmt.Errorf("解析表达式失败: %w", err)
	}
	for _, v := range expression.Vars() {
		if _, ok := params[v]; !ok {
			params[v] = vars[v]
		}
	}

	out, err := expression.Evaluate(params)
	if err != nil {
		return false, "", fmt.Errorf("评估表达式失败: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, "", fmt.Errorf("表达式结果不是布尔值: %v", out)
	}
	if !ok {
		return false, fmt.Sprintf("条件 %q 不成立", expr), nil
	}
	return true, "", nil
}

// ArtifactInspector 查询产出文件的大小
type ArtifactInspector interface {
	FileSize(ctx context.Context, ownerID, itemID string) (int64, error)
}

// ArtifactVerifier 确认声明的产出文件存在且大小不低于 MinSize
type ArtifactVerifier struct {
	Inspector ArtifactInspector
	MinSize   int64
}

// Name 核验器名称
func (v *ArtifactVerifier) Name() string { return "artifact" }

// Verify 没有声明产出时通过
func (v *ArtifactVerifier) Verify(ctx context.Context, job *AgentJob, result *JobResult) (bool, string, error) {
	minSize := v.MinSize
	if minSize <= 0 {
		minSize = 1
	}
	for _, id := range result.Artifacts {
		size, err := v.Inspector.FileSize(ctx, job.OwnerID, id)
		if err != nil {
			return false, fmt.Sprintf("文件 %s 不可用: %v", id, err), nil
		}
		if size < minSize {
			return false, fmt.Sprintf("文件 %s 大小仅 %d 字节", id, size), nil
		}
	}
	return true, "", nil
}

func lookupPath(vars map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return normalizeNumber(cur)
}

// govaluate 只接受 float64 参与数值比较
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
