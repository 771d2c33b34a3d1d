package jobs

import (
	"errors"
	"net/http"
	"strconv"

	response "agentdesk/api/handlers/common"
	"agentdesk/internal/jobs"

	"github.com/gin-gonic/gin"
)

// Handler 后台任务、批准与 Agent 消息
type Handler struct {
	store    *jobs.Store
	comm     *jobs.Communicator
	activity *jobs.ActivityLog
}

// NewHandler 创建 Handler
func NewHandler(store *jobs.Store, comm *jobs.Communicator, activity *jobs.ActivityLog) *Handler {
	return &Handler{store: store, comm: comm, activity: activity}
}

// GetJob 查询任务
// @Router /api/jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), response.OwnerID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, job)
}

// ListChildren 任务派生的迭代任务
// @Router /api/jobs/{id}/children [get]
func (h *Handler) ListChildren(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.store.Get(ctx, response.OwnerID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	children, err := h.store.ListChildren(ctx, job.ID)
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, children)
}

// ListActivity 任务的活动记录
// @Router /api/jobs/{id}/activity [get]
func (h *Handler) ListActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.activity.List(c.Request.Context(), response.OwnerID(c), c.Param("id"), limit)
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, entries)
}

// ListSessionJobs 会话内的任务
// @Router /api/sessions/{id}/jobs [get]
func (h *Handler) ListSessionJobs(c *gin.Context) {
	list, err := h.store.ListBySession(c.Request.Context(), response.OwnerID(c), c.Param("id"))
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, list)
}

// ApproveSession 批准会话内最新的待审批任务
// @Router /api/sessions/{id}/approve [post]
func (h *Handler) ApproveSession(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.store.ApproveLatest(ctx, response.OwnerID(c), c.Param("id"))
	if err != nil {
		response.Internal(c, err)
		return
	}
	if job == nil {
		response.NotFound(c, "没有待审批的任务")
		return
	}
	h.activity.Record(ctx, job, jobs.EventApproved, map[string]any{"source": "api"})
	response.OK(c, job)
}

// AgentMessages 发给指定 Agent 的消息（含广播）
// @Router /api/agents/{id}/messages [get]
func (h *Handler) AgentMessages(c *gin.Context) {
	unread := c.Query("unread") == "true"
	msgs, err := h.comm.GetMessages(c.Request.Context(), c.Param("id"), unread)
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.List(c, msgs)
}

// MarkRead 标记消息已读
// @Router /api/messages/{id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.comm.MarkAsRead(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, jobs.ErrMessageNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Internal(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	response.Internal(c, err)
}
