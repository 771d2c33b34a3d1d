package chat

import (
	"errors"

	response "agentdesk/api/handlers/common"
	chatsvc "agentdesk/internal/chat"
	"agentdesk/internal/intent"

	"github.com/gin-gonic/gin"
)

// Handler 对话入口
type Handler struct {
	service *chatsvc.Service
}

// NewHandler 创建 Handler
func NewHandler(service *chatsvc.Service) *Handler {
	return &Handler{service: service}
}

// ChatRequest 一轮对话请求
type ChatRequest struct {
	SessionID     string   `json:"sessionId"`
	Text          string   `json:"text" binding:"required"`
	AttachmentIDs []string `json:"attachmentIds"`
	AutonomyLevel string   `json:"autonomyLevel" binding:"omitempty,oneof=manual semi full"`
}

// MatchRequest 意图匹配请求
type MatchRequest struct {
	Text string `json:"text" binding:"required"`
}

// Chat 处理一轮输入
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}

	reply, err := h.service.HandleTurn(c.Request.Context(), &chatsvc.Turn{
		OwnerID:       response.OwnerID(c),
		SessionID:     req.SessionID,
		Text:          req.Text,
		AttachmentIDs: req.AttachmentIDs,
		AutonomyLevel: req.AutonomyLevel,
	})
	if err != nil {
		if errors.Is(err, chatsvc.ErrEmptyTurn) {
			response.BadRequest(c, err)
			return
		}
		response.Internal(c, err)
		return
	}
	response.OK(c, reply)
}

// Match 只返回意图路由结果，不执行
// @Router /api/match [post]
func (h *Handler) Match(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	route, err := h.service.Match(c.Request.Context(), response.OwnerID(c), req.Text)
	if err != nil {
		response.Internal(c, err)
		return
	}
	if route.Kind == "" {
		route.Kind = intent.RouteNone
	}
	response.OK(c, route)
}
