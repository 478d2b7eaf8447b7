// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/NovelCastMCP/internal/config"
	"github.com/Corphon/NovelCastMCP/internal/di"
	"github.com/Corphon/NovelCastMCP/internal/services"
	"github.com/Corphon/NovelCastMCP/internal/storage"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 只从容器获取服务，不再创建新实例
	container := di.GetContainer()

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	profilerService, ok := container.Get("profiler").(*services.ProfilerService)
	if !ok {
		return nil, fmt.Errorf("角色分析服务未正确初始化")
	}

	agentService, ok := container.Get("agents").(*services.AgentService)
	if !ok {
		return nil, fmt.Errorf("代理服务未正确初始化")
	}

	narratorService, ok := container.Get("narrator").(*services.NarratorService)
	if !ok {
		return nil, fmt.Errorf("旁白服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	profileStore, ok := container.Get("profile_store").(*storage.ProfileStore)
	if !ok {
		return nil, fmt.Errorf("角色档案存储未正确初始化")
	}

	handler := NewHandler(
		llmService,
		profilerService,
		agentService,
		narratorService,
		progressService,
		profileStore,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(corsMiddleware())

	// WebSocket 进度流
	r.GET("/ws/progress/:task", handler.ProgressWebSocket)

	api := r.Group("/api")
	{
		api.GET("/status", handler.GetStatus)

		// 角色档案分析
		profiles := api.Group("/profiles")
		{
			profiles.POST("", handler.ProfileDocument)
			profiles.GET("", handler.ListProfiles)
			profiles.GET("/:id", handler.GetProfile)
		}

		// 会话与角色回合
		sessions := api.Group("/sessions/:id")
		{
			sessions.POST("/agents", handler.SpawnAgent)
			sessions.GET("/agents", handler.ListAgents)
			sessions.POST("/react", handler.React)
			sessions.POST("/narrate", handler.Narrate)
		}
		api.DELETE("/sessions/:id", handler.DropSession)

		// 任务进度轮询
		api.GET("/progress/:task", handler.GetProgress)

		// LLM配置
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
