package workflows

import (
	"errors"
	"io"

	response "agentdesk/api/handlers/common"
	"agentdesk/internal/tools"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"

	"github.com/gin-gonic/gin"
)

// WorkflowExecuteHandler 手动触发工作流
type WorkflowExecuteHandler struct {
	repo *workflow.Repository
	exec *executor.Executor
}

// NewWorkflowExecuteHandler 创建 WorkflowExecuteHandler 实例
func NewWorkflowExecuteHandler(repo *workflow.Repository, exec *executor.Executor) *WorkflowExecuteHandler {
	return &WorkflowExecuteHandler{repo: repo, exec: exec}
}

// RunWorkflow 同步执行工作流并返回逐步结果
// @Router /api/workflows/{id}/run [post]
func (h *WorkflowExecuteHandler) RunWorkflow(c *gin.Context) {
	var req RunWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err)
		return
	}

	ownerID := response.OwnerID(c)
	def, err := h.repo.GetDefinition(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrDefinitionNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Internal(c, err)
		return
	}

	initial := map[string]any{}
	if len(req.AttachmentIDs) > 0 {
		initial[tools.KeyAttachmentIDs] = req.AttachmentIDs
	}
	res := h.exec.Run(c.Request.Context(), executor.RunRequest{
		OwnerID:    ownerID,
		WorkflowID: def.ID,
		Name:       def.Name,
		Steps:      def.Steps,
		Initial:    initial,
		Options:    def.Options,
	})
	response.OK(c, gin.H{"summary": res.Summary(), "run": res})
}
