package api

import (
	"fmt"
	"strings"
	"time"

	"agentdesk/internal/ai/openai"
	"agentdesk/internal/chat"
	"agentdesk/internal/config"
	"agentdesk/internal/infra"
	"agentdesk/internal/infra/queue"
	"agentdesk/internal/intent"
	"agentdesk/internal/jobs"
	"agentdesk/internal/tools"
	"agentdesk/internal/tools/builtin"
	"agentdesk/internal/worker"
	"agentdesk/internal/workflow"
	"agentdesk/internal/workflow/executor"
	"agentdesk/internal/workspace"
	"agentdesk/pkg/aiinterface"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	messageBusBuffer  = 64
	historyTTL        = 24 * time.Hour
	historyMaxEntries = 200
)

// AppContainer 应用依赖容器，serve 与 worker 命令共用
type AppContainer struct {
	DB       *gorm.DB
	Config   *config.Config
	Logger   *zap.Logger
	Redis    *redis.Client
	Notifier queue.Notifier

	Workspace  *workspace.Service
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Workflows  *workflow.Repository
	Executor   *executor.Executor

	Jobs     *jobs.Store
	Feedback *jobs.FeedbackController
	Comm     *jobs.Communicator
	Activity *jobs.ActivityLog
	Relay    *jobs.RedisRelay // 仅启用 Redis 时存在

	Pipeline *openai.Pipeline
	Chat     *chat.Service
}

// Models 需要迁移的全部表
func Models() []any {
	models := []any{
		&workspace.Item{},
		&workflow.Definition{},
		&workflow.IntentRule{},
		&tools.ActionExecution{},
	}
	return append(models, jobs.Models()...)
}

// InitContainer 初始化所有服务
func InitContainer(db *gorm.DB, cfg *config.Config, log *zap.Logger) (*AppContainer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &AppContainer{DB: db, Config: cfg, Logger: log}

	c.initRedis()
	if err := c.initWorkspace(); err != nil {
		return nil, err
	}
	if err := c.initWorkflow(); err != nil {
		return nil, err
	}
	c.initJobs()
	if err := c.initChat(); err != nil {
		return nil, err
	}
	return c, nil
}

// initRedis Redis 不可用时退回内存历史，不唤醒 Worker
func (c *AppContainer) initRedis() {
	c.Notifier = queue.NopNotifier{}
	if !c.Config.Redis.Enabled {
		return
	}
	client, err := infra.InitRedis(&c.Config.Redis, c.Logger)
	if err != nil {
		c.Logger.Warn("Redis 不可用，会话历史退回内存实现", zap.Error(err))
		return
	}
	c.Redis = client
	if c.Config.Jobs.NotifyEnabled {
		c.Notifier = queue.NewNotifier(c.Config.Redis)
	}
}

func (c *AppContainer) initWorkspace() error {
	var storage workspace.Storage
	if base := strings.TrimSpace(c.Config.Workspace.BasePath); base != "" {
		fs, err := workspace.NewFilesystemStorage(base)
		if err != nil {
			return fmt.Errorf("初始化文件存储失败: %w", err)
		}
		storage = fs
	} else {
		storage = workspace.NewMemoryStorage()
	}
	c.Workspace = workspace.NewService(c.DB, storage, c.Logger.Named("workspace"))

	c.Registry = tools.NewRegistry()
	if err := builtin.RegisterAll(c.Registry, c.Workspace, c.Config.Workspace.RecoveryWindowDuration()); err != nil {
		return fmt.Errorf("注册内置动作失败: %w", err)
	}
	c.Dispatcher = tools.NewDispatcher(c.Registry, c.DB, c.Logger.Named("tools"))
	return nil
}

func (c *AppContainer) initWorkflow() error {
	catalog, err := workflow.LoadDefaults()
	if err != nil {
		return err
	}
	if path := strings.TrimSpace(c.Config.Automation.RulesPath); path != "" {
		custom, err := workflow.LoadFile(path)
		if err != nil {
			return err
		}
		catalog.Merge(custom)
		c.Logger.Info("已加载自定义自动化",
			zap.String("path", path),
			zap.Int("workflows", len(custom.Workflows)),
			zap.Int("rules", len(custom.Rules)),
		)
	}
	c.Workflows = workflow.NewRepository(c.DB, catalog)
	c.Executor = executor.New(c.Dispatcher, c.Workspace, executor.Config{
		FolderPrefix:   c.Config.Workspace.FolderPrefix,
		RecoveryWindow: c.Config.Workspace.RecoveryWindowDuration(),
	}, c.Logger.Named("executor"))
	return nil
}

func (c *AppContainer) initJobs() {
	log := c.Logger.Named("jobs")
	c.Jobs = jobs.NewStore(c.DB, c.Notifier, log)
	c.Jobs.SetDefaultMaxIterations(c.Config.Jobs.DefaultMaxIterations)
	c.Feedback = jobs.NewFeedbackController(c.Jobs, log,
		jobs.ExpressionVerifier{},
		&jobs.ArtifactVerifier{Inspector: c.Workspace},
	)
	bus := jobs.NewMessageBus(messageBusBuffer)
	c.Comm = jobs.NewCommunicator(c.DB, bus, log)
	if c.Redis != nil {
		c.Relay = jobs.NewRedisRelay(c.Redis, bus, log.Named("relay"))
		c.Comm.SetRelay(c.Relay)
	}
	c.Activity = jobs.NewActivityLog(c.DB, log)
}

func (c *AppContainer) initChat() error {
	aiCfg := c.Config.AI
	var pipeline chat.Pipeline
	if strings.TrimSpace(aiCfg.OpenAI.APIKey) != "" {
		client, err := openai.NewClient(&aiinterface.ClientConfig{
			APIKey:     aiCfg.OpenAI.APIKey,
			BaseURL:    aiCfg.OpenAI.BaseURL,
			OrgID:      aiCfg.OpenAI.OrgID,
			Model:      aiCfg.OpenAI.Model,
			MaxRetries: aiCfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("初始化对话模型失败: %w", err)
		}
		c.Pipeline = openai.NewPipeline(client, client.Model(), aiCfg.HistoryTokenBudget, c.Logger.Named("pipeline"))
		pipeline = c.Pipeline
	} else {
		c.Logger.Warn("未配置 OpenAI API Key，未命中自动化的消息将无法规划动作")
	}

	var history chat.HistoryStore
	if c.Redis != nil {
		history = chat.NewRedisHistory(c.Redis, historyTTL, historyMaxEntries)
	} else {
		history = chat.NewMemoryHistory(historyMaxEntries)
	}

	c.Chat = chat.NewService(chat.Deps{
		Pipeline:  pipeline,
		Router:    intent.NewRouter(c.Logger.Named("intent")),
		Workflows: c.Workflows,
		Executor:  c.Executor,
		Actions:   c.Registry,
		Jobs:      c.Jobs,
		Activity:  c.Activity,
		History:   history,
	}, chat.Config{
		SystemInstruction: aiCfg.SystemInstruction,
		MaxIterations:     c.Config.Jobs.DefaultMaxIterations,
	}, c.Logger.Named("chat"))
	return nil
}

// NewWorker 创建一个处理后台任务的 Worker，workerID 为空时使用配置
func (c *AppContainer) NewWorker(workerID string) *worker.Worker {
	jobsCfg := c.Config.Jobs
	if workerID == "" {
		workerID = jobsCfg.WorkerID
	}
	return worker.New(worker.Deps{
		Store:    c.Jobs,
		Feedback: c.Feedback,
		Comm:     c.Comm,
		Activity: c.Activity,
		Runner:   c.Chat,
	}, worker.Config{
		WorkerID:     workerID,
		PollInterval: jobsCfg.PollIntervalDuration(),
		LeaseTTL:     jobsCfg.LeaseTTLDuration(),
	}, c.Logger)
}

// NewReaper 创建租约回收器
func (c *AppContainer) NewReaper() *worker.Reaper {
	return worker.NewReaper(c.Jobs, c.Feedback, c.Activity, c.Config.Jobs.ReapIntervalDuration(), c.Logger)
}

// Close 释放外部连接
func (c *AppContainer) Close() {
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil {
			c.Logger.Warn("关闭任务通知客户端失败", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := infra.CloseRedis(); err != nil {
			c.Logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}
}
