package api

import (
	chatHandlers "agentdesk/api/handlers/chat"
	jobHandlers "agentdesk/api/handlers/jobs"
	"agentdesk/api/handlers/workflows"
	"agentdesk/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 所有 HTTP Handler
type Handlers struct {
	Chat            *chatHandlers.Handler
	Workflow        *workflows.WorkflowHandler
	WorkflowExecute *workflows.WorkflowExecuteHandler
	Jobs            *jobHandlers.Handler
	Stream          *jobHandlers.StreamHandler
}

// InitHandlers 基于容器创建 Handler
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Chat:            chatHandlers.NewHandler(c.Chat),
		Workflow:        workflows.NewWorkflowHandler(c.Workflows),
		WorkflowExecute: workflows.NewWorkflowExecuteHandler(c.Workflows, c.Executor),
		Jobs:            jobHandlers.NewHandler(c.Jobs, c.Comm, c.Activity),
		Stream:          jobHandlers.NewStreamHandler(c.Jobs, c.Comm, c.Logger.Named("stream")),
	}
}

// SetupRouter 创建 Gin 路由
func SetupRouter(c *AppContainer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(c.Logger.Named("http")))
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(c.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, c, c.InitHandlers())
	return router
}
