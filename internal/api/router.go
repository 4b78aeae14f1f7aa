// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/di"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/services"
	"github.com/gin-gonic/gin"
)

// NewHandler 创建API处理器
func NewHandler(
	scriptService *services.ScriptService,
	scoutService *services.ScoutService,
	progressService *services.ProgressService,
	configService *services.ConfigService,
	statsService *services.StatsService,
	llmService *services.LLMService,
) *Handler {
	return &Handler{
		ScriptService:   scriptService,
		ScoutService:    scoutService,
		ProgressService: progressService,
		ConfigService:   configService,
		StatsService:    statsService,
		LLMService:      llmService,
		Response:        NewResponseHelper(),
	}
}

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	scriptService, ok := container.Get("script").(*services.ScriptService)
	if !ok {
		return nil, fmt.Errorf("脚本服务未正确初始化")
	}

	scoutService, ok := container.Get("scout").(*services.ScoutService)
	if !ok {
		return nil, fmt.Errorf("侦察服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	handler := NewHandler(
		scriptService,
		scoutService,
		progressService,
		configService,
		statsService,
		llmService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())

	// ===============================
	// 健康与监控
	// ===============================
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", handler.GetMetrics)

	// WebSocket 支持
	r.GET("/ws/runs/:id", handler.RunProgressWebSocket)

	// ===============================
	// API路由
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// 脚本生成与存档
		scriptsGroup := api.Group("/scripts")
		{
			scriptsGroup.POST("", GenerationRateLimit(), handler.GenerateScript)
			scriptsGroup.GET("", handler.ListScripts)
			scriptsGroup.GET("/:id", handler.GetScript)
			scriptsGroup.DELETE("/:id", handler.DeleteScript)
		}

		// 生成任务进度（轮询）
		api.GET("/runs/:id/progress", handler.GetRunProgress)

		// 新闻侦察
		api.GET("/news/headlines", HeadlineRateLimit(), handler.GetHeadlines)

		// 配置管理
		api.GET("/settings", handler.GetSettings)

		// LLM管理
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// 统计
		api.GET("/stats", handler.GetStats)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
