package handler

import (
	"edunotify/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(notifyService *service.NotifyService, statsService *service.StatsService) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(notifyService, statsService)

	// API 路由组
	api := r.Group("/api/v1")
	{
		notify := api.Group("/notify")
		{
			// 入队
			notify.POST("/enqueue", h.Enqueue)
			notify.POST("/enqueue/batch", h.EnqueueBatch)

			// 统计与日志
			notify.GET("/stats", h.GetStatistics)
			notify.GET("/logs/recent", h.ListRecent)
			notify.GET("/logs", h.ListByStatus)
			notify.GET("/pending-count", h.GetPendingCount)
			notify.GET("/failed-count", h.GetFailedCount)

			// 运营操作
			notify.POST("/retry-failed", h.RetryFailed)
			notify.POST("/trigger", h.TriggerCycle)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
