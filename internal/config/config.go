package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	AI         AIConfig         `mapstructure:"ai"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Automation AutomationConfig `mapstructure:"automation"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	Mode           string `mapstructure:"mode"` // debug, release, test
	ReadTimeout    int    `mapstructure:"read_timeout"`
	WriteTimeout   int    `mapstructure:"write_timeout"`
	DefaultOwnerID string `mapstructure:"default_owner_id"` // 未携带 X-Owner-ID 时使用的账户
	EmbedWorker    bool   `mapstructure:"embed_worker"`     // serve 进程内是否同时运行一个 Worker
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置（会话历史与 Worker 唤醒队列共用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 对话模型配置
type AIConfig struct {
	OpenAI             OpenAIConfig `mapstructure:"openai"`
	HistoryTokenBudget int          `mapstructure:"history_token_budget"`
	SystemInstruction  string       `mapstructure:"system_instruction"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	OrgID      string `mapstructure:"org_id"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// WorkspaceConfig 工作区文件存储配置
type WorkspaceConfig struct {
	BasePath       string `mapstructure:"base_path"`
	FolderPrefix   string `mapstructure:"folder_prefix"`   // 自动命名文件夹的前缀
	RecoveryWindow string `mapstructure:"recovery_window"` // 孤儿上传恢复的时间窗口，如 "10m"
}

// RecoveryWindowDuration 解析恢复窗口
func (c WorkspaceConfig) RecoveryWindowDuration() time.Duration {
	return parseDuration(c.RecoveryWindow, 10*time.Minute)
}

// JobsConfig 后台任务配置
type JobsConfig struct {
	WorkerID             string `mapstructure:"worker_id"`
	PollInterval         string `mapstructure:"poll_interval"`
	LeaseTTL             string `mapstructure:"lease_ttl"`
	ReapInterval         string `mapstructure:"reap_interval"`
	DefaultMaxIterations int    `mapstructure:"default_max_iterations"`
	NotifyEnabled        bool   `mapstructure:"notify_enabled"` // 是否通过 asynq 即时唤醒 Worker
}

// PollIntervalDuration 轮询间隔
func (c JobsConfig) PollIntervalDuration() time.Duration {
	return parseDuration(c.PollInterval, 5*time.Second)
}

// LeaseTTLDuration 任务租约时长
func (c JobsConfig) LeaseTTLDuration() time.Duration {
	return parseDuration(c.LeaseTTL, 15*time.Minute)
}

// ReapIntervalDuration 过期租约扫描间隔
func (c JobsConfig) ReapIntervalDuration() time.Duration {
	return parseDuration(c.ReapInterval, time.Minute)
}

// AutomationConfig 自动化规则配置
type AutomationConfig struct {
	RulesPath string `mapstructure:"rules_path"` // 用户自定义工作流/规则 YAML
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// 未找到配置文件时仅使用默认值与环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// SetDefaults 写入默认值，空配置文件也能启动
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.default_owner_id", "default")
	v.SetDefault("server.embed_worker", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "agentdesk.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.max_retries", 3)
	v.SetDefault("ai.history_token_budget", 3000)

	v.SetDefault("workspace.base_path", "./workspace")
	v.SetDefault("workspace.folder_prefix", "Workflow")
	v.SetDefault("workspace.recovery_window", "10m")

	v.SetDefault("jobs.poll_interval", "5s")
	v.SetDefault("jobs.lease_ttl", "15m")
	v.SetDefault("jobs.reap_interval", "1m")
	v.SetDefault("jobs.default_max_iterations", 3)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取 Postgres 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
