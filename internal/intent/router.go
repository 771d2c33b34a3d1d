package intent

import (
	"agentdesk/internal/metrics"
	"agentdesk/internal/workflow"

	"go.uber.org/zap"
)

// RouteKind 路由结果类型
type RouteKind string

const (
	RouteWorkflow RouteKind = "workflow"
	RouteRule     RouteKind = "rule"
	RouteNone     RouteKind = "none"
)

// Route 路由结果；Kind 为 workflow 时 Workflow 非空，为 rule 时 Rule 非空
type Route struct {
	Kind     RouteKind            `json:"kind"`
	Workflow *workflow.Definition `json:"workflow,omitempty"`
	Rule     *workflow.IntentRule `json:"rule,omitempty"`
	Match    *KeywordMatch        `json:"match,omitempty"`
}

// Router 先匹配工作流，再匹配启用的意图规则，都未命中时交给对话管线
type Router struct {
	matcher *Matcher
	logger  *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{matcher: NewMatcher(), logger: logger}
}

// Route 为一句话选择要触发的自动化
func (r *Router) Route(text string, workflows []*workflow.Definition, rules []*workflow.IntentRule) Route {
	wfCandidates := make([]Candidate, 0, len(workflows))
	for _, wf := range workflows {
		if wf == nil || !wf.Enabled {
			continue
		}
		wfCandidates = append(wfCandidates, Candidate{Name: wf.Name, Keywords: wf.TriggerKeywords, Ref: wf})
	}
	if m, ok := r.matcher.Match(text, wfCandidates); ok {
		r.record(RouteWorkflow, m)
		km := m.KeywordMatch
		return Route{Kind: RouteWorkflow, Workflow: m.Candidate.Ref.(*workflow.Definition), Match: &km}
	}

	ruleCandidates := make([]Candidate, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || !rule.Enabled {
			continue
		}
		ruleCandidates = append(ruleCandidates, Candidate{Name: rule.Name, Keywords: rule.Keywords, Ref: rule})
	}
	if m, ok := r.matcher.Match(text, ruleCandidates); ok {
		rule := m.Candidate.Ref.(*workflow.IntentRule)
		km := m.KeywordMatch
		if rule.IsWorkflow() {
			r.record(RouteWorkflow, m)
			return Route{Kind: RouteWorkflow, Workflow: rule.AsDefinition(), Rule: rule, Match: &km}
		}
		r.record(RouteRule, m)
		return Route{Kind: RouteRule, Rule: rule, Match: &km}
	}

	metrics.IntentMatchesTotal.WithLabelValues(string(RouteNone), "").Inc()
	return Route{Kind: RouteNone}
}

func (r *Router) record(kind RouteKind, m *Match) {
	metrics.IntentMatchesTotal.WithLabelValues(string(kind), m.Reason).Inc()
	r.logger.Debug("意图命中",
		zap.String("kind", string(kind)),
		zap.String("name", m.Candidate.Name),
		zap.String("keyword", m.Keyword),
		zap.Int("score", m.Score),
		zap.String("reason", m.Reason),
	)
}
