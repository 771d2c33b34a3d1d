package main

import (
	"fmt"
	"os"
	"path/filepath"

	"agentdesk/api"
	"agentdesk/internal/config"
	"agentdesk/internal/infra"
	"agentdesk/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type globalFlags struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "agentdesk",
		Short: "对话驱动的工作区自动化服务",
		Long: `agentdesk 把用户的一句话路由到工作流、单动作规则或对话模型，
需要执行的动作进入后台任务队列，由 Worker 认领执行并根据反馈迭代。

示例:
  agentdesk serve              # HTTP 服务（默认内嵌一个 Worker）
  agentdesk worker --id w2     # 独立 Worker
  agentdesk migrate            # 仅执行数据库迁移`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnvFile()
		},
	}

	root.PersistentFlags().StringVar(&flags.env, "env", envOrDefault("APP_ENV", "dev"), "配置环境名（读取 config/<env>.yaml）")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "配置文件路径，优先于 --env")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newWorkerCmd(flags))
	root.AddCommand(newMigrateCmd(flags))
	return root
}

// bootstrap 加载配置、初始化日志与数据库
func bootstrap(flags *globalFlags) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(flags.env, flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	db, err := infra.InitDatabase(&cfg.Database, logger.Named("database"))
	if err != nil {
		return nil, nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, logger.Get(), api.Models()...); err != nil {
			return nil, nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	return cfg, db, nil
}

func shutdown() {
	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}
	_ = logger.Sync()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadEnvFile 从当前目录向上查找 .env
func loadEnvFile() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := filepath.Clean(wd)
	for i := 0; i < 8; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "加载环境变量文件 %s 失败: %v\n", path, err)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
