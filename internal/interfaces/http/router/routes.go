// Package router 提供 HTTP 路由配置
package router

import (
	"novel-forge-api/internal/config"
	"novel-forge-api/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(
	v1 *gin.RouterGroup,
	cfg *config.Config,
	limiter middleware.RateLimiter,
	handlers Handlers,
) {
	// 创建任务单独使用更严格的限流窗口
	var generateLimit gin.HandlerFunc
	if cfg.Security.RateLimit.Enabled {
		generateLimit = middleware.RateLimit(
			limiter,
			cfg.Security.RateLimit.GenerateRequests,
			cfg.Security.RateLimit.GenerateWindow,
		)
	} else {
		generateLimit = func(c *gin.Context) { c.Next() }
	}

	// 小说生成任务
	novels := v1.Group("/novels")
	{
		novels.POST("", generateLimit, handlers.Novel.CreateNovel)
		novels.GET("", handlers.Novel.ListNovels)
		novels.GET("/:jid", handlers.Novel.GetNovelStatus)
		novels.DELETE("/:jid", handlers.Novel.DeleteNovel)
		novels.GET("/:jid/download", handlers.Novel.DownloadNovel)
		novels.POST("/:jid/retry", handlers.Novel.RetryNovel)
		novels.GET("/:jid/failures", handlers.Novel.GetNovelFailures)
		novels.GET("/:jid/story-bible", handlers.Novel.GetStoryBible)
		novels.GET("/:jid/continuity-alerts", handlers.Novel.GetContinuityAlerts)
		novels.GET("/:jid/quality-metrics", handlers.Novel.GetQualityMetrics)
		novels.GET("/:jid/cost-tracking", handlers.Novel.GetCostTracking)
	}

	// 题材目录
	genres := v1.Group("/genres")
	{
		genres.GET("", handlers.Genre.ListGenres)
	}
}
