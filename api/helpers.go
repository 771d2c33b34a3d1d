package api

import (
	"os"
	"strings"

	"agentdesk/internal/infra"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthCheck 存活检查
// @Router /health [get]
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "agentdesk",
		})
	}
}

// ReadinessCheck 就绪检查，包含数据库与 Redis 连通性
// @Router /ready [get]
func ReadinessCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": "database connection error"})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": "database ping failed"})
			return
		}
		if err := infra.HealthCheckRedis(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": "redis ping failed"})
			return
		}
		c.JSON(200, gin.H{"status": "ready", "database": "connected"})
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
