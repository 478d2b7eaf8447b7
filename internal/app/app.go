// internal/app/app.go
package app

import (
	"fmt"
	"time"

	"github.com/Corphon/NovelCastMCP/internal/config"
	"github.com/Corphon/NovelCastMCP/internal/di"
	"github.com/Corphon/NovelCastMCP/internal/gate"
	"github.com/Corphon/NovelCastMCP/internal/services"
	"github.com/Corphon/NovelCastMCP/internal/storage"
	"github.com/Corphon/NovelCastMCP/internal/utils"

	// 提供者在 init 中自注册
	_ "github.com/Corphon/NovelCastMCP/internal/llm/providers/anthropic"
	_ "github.com/Corphon/NovelCastMCP/internal/llm/providers/glm"
	_ "github.com/Corphon/NovelCastMCP/internal/llm/providers/openai"
	_ "github.com/Corphon/NovelCastMCP/internal/llm/providers/qwen"
)

// 空闲并发门作用域的回收参数
const (
	gateCleanupInterval = 5 * time.Minute
	gateMaxIdle         = 30 * time.Minute
)

// InitServices 按依赖顺序初始化所有服务并注册到DI容器
// 调用前必须完成 config.InitConfig
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()
	logger := utils.GetLogger()

	// 存储层
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	profileStore := storage.NewProfileStore(fileStorage)
	container.Register("profile_store", profileStore)

	// LLM服务：提供者初始化失败不阻断启动，可通过API补配
	llmService := services.NewLLMService(cfg)
	container.Register("llm", llmService)

	// 并发门注册表：按会话/任务作用域限流，空闲作用域定期回收
	gates := gate.NewRegistry(cfg.Simulation.Concurrency)
	gates.StartCleanup(gateCleanupInterval, gateMaxIdle)
	container.Register("gates", gates)

	// 进度服务
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	// 角色分析
	profilerService := services.NewProfilerService(
		llmService, gates, profileStore, progressService, cfg.Simulation)
	container.Register("profiler", profilerService)

	// 会话代理与旁白
	agentService := services.NewAgentService(llmService, gates, profileStore, cfg.Simulation)
	container.Register("agents", agentService)

	narratorService := services.NewNarratorService(llmService, gates, agentService)
	container.Register("narrator", narratorService)

	logger.Info("服务装配完成", map[string]interface{}{
		"services":    len(container.GetNames()),
		"llm_ready":   llmService.IsReady(),
		"concurrency": cfg.Simulation.Concurrency,
	})
	return nil
}

// Cleanup 停止后台任务并释放资源，进程退出前调用
func Cleanup() {
	container := di.GetContainer()

	if gates, ok := container.Get("gates").(*gate.Registry); ok {
		gates.StopCleanup()
	}
	if fileStorage, ok := container.Get("storage").(*storage.FileStorage); ok {
		fileStorage.Close()
	}
	if progress, ok := container.Get("progress").(*services.ProgressService); ok {
		progress.CleanupCompletedTasks(0)
	}

	utils.GetLogger().Info("应用资源已清理", nil)
}
