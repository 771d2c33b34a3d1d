package workflows

import (
	"net/http"

	response "agentdesk/api/handlers/common"
	"agentdesk/internal/workflow"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流与意图规则管理
type WorkflowHandler struct {
	repo *workflow.Repository
}

// NewWorkflowHandler 创建 WorkflowHandler 实例
func NewWorkflowHandler(repo *workflow.Repository) *WorkflowHandler {
	return &WorkflowHandler{repo: repo}
}

// ListWorkflows 当前账户可用的工作流（含内置）
// @Router /api/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	defs, err := h.repo.ListDefinitions(c.Request.Context(), response.OwnerID(c))
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, defs)
}

// CreateWorkflow 创建工作流
// @Router /api/workflows [post]
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}

	def := &workflow.Definition{
		OwnerID:         response.OwnerID(c),
		Name:            req.Name,
		Description:     req.Description,
		TriggerKeywords: req.TriggerKeywords,
		Steps:           req.Steps,
		Options:         req.Options,
		Enabled:         enabledOrDefault(req.Enabled),
	}
	if err := h.repo.CreateDefinition(c.Request.Context(), def); err != nil {
		response.BadRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: def})
}

// ListRules 当前账户可用的意图规则（含内置）
// @Router /api/rules [get]
func (h *WorkflowHandler) ListRules(c *gin.Context) {
	rules, err := h.repo.ListRules(c.Request.Context(), response.OwnerID(c))
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, rules)
}

// CreateRule 创建意图规则
// @Router /api/rules [post]
func (h *WorkflowHandler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}

	rule := &workflow.IntentRule{
		OwnerID:  response.OwnerID(c),
		Name:     req.Name,
		Action:   req.Action,
		Keywords: req.Keywords,
		Steps:    req.Steps,
		Config:   req.Config,
		Enabled:  enabledOrDefault(req.Enabled),
	}
	if err := h.repo.CreateRule(c.Request.Context(), rule); err != nil {
		response.BadRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: rule})
}
