package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, h *Handlers) {
	api := router.Group("/api")
	api.Use(OwnerContext(container.Config.Server.DefaultOwnerID))

	// 对话与意图匹配
	api.POST("/chat", h.Chat.Chat)
	api.POST("/match", h.Chat.Match)

	// 工作流与意图规则
	api.GET("/workflows", h.Workflow.ListWorkflows)
	api.POST("/workflows", h.Workflow.CreateWorkflow)
	api.POST("/workflows/:id/run", h.WorkflowExecute.RunWorkflow)
	api.GET("/rules", h.Workflow.ListRules)
	api.POST("/rules", h.Workflow.CreateRule)

	// 后台任务
	jobs := api.Group("/jobs")
	{
		jobs.GET("/:id", h.Jobs.GetJob)
		jobs.GET("/:id/children", h.Jobs.ListChildren)
		jobs.GET("/:id/activity", h.Jobs.ListActivity)
		jobs.GET("/:id/stream", h.Stream.Stream)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("/:id/jobs", h.Jobs.ListSessionJobs)
		sessions.POST("/:id/approve", h.Jobs.ApproveSession)
	}

	// Agent 消息
	api.GET("/agents/:id/messages", h.Jobs.AgentMessages)
	api.POST("/messages/:id/read", h.Jobs.MarkRead)
}
