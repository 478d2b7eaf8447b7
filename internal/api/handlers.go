// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/NovelCastMCP/internal/config"
	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/llm"
	"github.com/Corphon/NovelCastMCP/internal/models"
	"github.com/Corphon/NovelCastMCP/internal/services"
	"github.com/Corphon/NovelCastMCP/internal/storage"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

// Handler API处理器
type Handler struct {
	LLMService      *services.LLMService
	ProfilerService *services.ProfilerService
	AgentService    *services.AgentService
	NarratorService *services.NarratorService
	ProgressService *services.ProgressService
	ProfileStore    *storage.ProfileStore
}

// NewHandler 创建API处理器
func NewHandler(
	llmService *services.LLMService,
	profilerService *services.ProfilerService,
	agentService *services.AgentService,
	narratorService *services.NarratorService,
	progressService *services.ProgressService,
	profileStore *storage.ProfileStore,
) *Handler {
	return &Handler{
		LLMService:      llmService,
		ProfilerService: profilerService,
		AgentService:    agentService,
		NarratorService: narratorService,
		ProgressService: progressService,
		ProfileStore:    profileStore,
	}
}

// respondError 按错误类型映射HTTP状态码
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation:
			status = http.StatusBadRequest
		case apperrors.ErrorTypeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrorTypeProvider, apperrors.ErrorTypeMalformedOutput:
			status = http.StatusBadGateway
		case apperrors.ErrorTypeTimeout:
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// GetStatus 引擎状态与指标快照
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"llm_ready":    h.LLMService.IsReady(),
		"llm_provider": h.LLMService.GetProviderName(),
		"metrics":      utils.GetMetricsCollector().GetMetrics(),
	})
}

// ===============================
// 角色档案分析
// ===============================

type profileRequest struct {
	Document  string                 `json:"document" binding:"required"`
	Character services.CharacterInfo `json:"character" binding:"required"`
	Async     bool                   `json:"async"`
}

// ProfileDocument 从文档中提取角色档案
// async 时立即返回任务标识，进度经 /api/progress 或 WebSocket 查询
func (h *Handler) ProfileDocument(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("请求格式错误", err))
		return
	}

	if req.Async {
		taskID, err := h.ProfilerService.ProfileCharacterAsync(req.Document, req.Character)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
		return
	}

	profile, err := h.ProfilerService.ProfileCharacter(c.Request.Context(), req.Document, req.Character)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetProfile 读取已保存的角色档案
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.ProfileStore.LoadProfile(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ListProfiles 已保存角色档案的标识列表
func (h *Handler) ListProfiles(c *gin.Context) {
	ids, err := h.ProfileStore.ListProfileIDs()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": ids})
}

// ===============================
// 会话与角色回合
// ===============================

type spawnRequest struct {
	ProfileID string                   `json:"profile_id"`
	Profile   *models.CharacterProfile `json:"profile"`
}

// SpawnAgent 在会话中实例化角色代理
// 给定 profile_id 时从存储加载，也可以直接内联角色档案
func (h *Handler) SpawnAgent(c *gin.Context) {
	sessionID := c.Param("id")

	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("请求格式错误", err))
		return
	}

	profile := req.Profile
	if profile == nil {
		if req.ProfileID == "" {
			respondError(c, apperrors.NewValidationError("缺少 profile_id 或内联档案", nil))
			return
		}
		loaded, err := h.ProfileStore.LoadProfile(req.ProfileID)
		if err != nil {
			respondError(c, err)
			return
		}
		profile = loaded
	}

	agent, err := h.AgentService.SpawnAgent(sessionID, profile)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   sessionID,
		"character_id": agent.Profile.ID,
		"state":        agent.State().String(),
		"emotional":    agent.Emotional(),
	})
}

// ListAgents 会话中的代理概览
func (h *Handler) ListAgents(c *gin.Context) {
	agents := h.AgentService.SessionAgents(c.Param("id"))

	out := make([]gin.H, 0, len(agents))
	for _, agent := range agents {
		out = append(out, gin.H{
			"character_id":   agent.Profile.ID,
			"character_name": agent.Profile.Name,
			"state":          agent.State().String(),
			"emotional":      agent.Emotional(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

type reactRequest struct {
	CharacterID  string              `json:"character_id" binding:"required"`
	Input        string              `json:"input" binding:"required"`
	Scene        models.SceneContext `json:"scene"`
	DirectorHint string              `json:"director_hint"`
}

// React 驱动单个角色回合
// 会话中尚未实例化该角色时，自动从存储加载档案
func (h *Handler) React(c *gin.Context) {
	sessionID := c.Param("id")

	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("请求格式错误", err))
		return
	}

	if _, ok := h.AgentService.GetAgent(sessionID, req.CharacterID); !ok {
		profile, err := h.ProfileStore.LoadProfile(req.CharacterID)
		if err == nil {
			_, err = h.AgentService.SpawnAgent(sessionID, profile)
		}
		if err != nil {
			respondError(c, err)
			return
		}
	}

	reaction, err := h.AgentService.React(
		c.Request.Context(), sessionID, req.CharacterID, req.Input, req.Scene, req.DirectorHint)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reaction)
}

type narrateRequest struct {
	Input string              `json:"input" binding:"required"`
	Scene models.SceneContext `json:"scene"`
}

// Narrate 驱动多角色回合，一次调用产出所有在场角色的反应
func (h *Handler) Narrate(c *gin.Context) {
	sessionID := c.Param("id")

	var req narrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("请求格式错误", err))
		return
	}

	reactions, err := h.NarratorService.Narrate(c.Request.Context(), sessionID, req.Input, req.Scene)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responses": reactions})
}

// DropSession 结束会话：移除代理、回收并发门作用域并清理回合快照
func (h *Handler) DropSession(c *gin.Context) {
	sessionID := c.Param("id")
	h.AgentService.DropSession(sessionID)

	if err := h.ProfileStore.DeleteSession(sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "dropped": true})
}

// ===============================
// 任务进度
// ===============================

// GetProgress 轮询任务进度
func (h *Handler) GetProgress(c *gin.Context) {
	tracker, ok := h.ProgressService.GetTracker(c.Param("task"))
	if !ok {
		respondError(c, apperrors.NewNotFoundError("任务不存在", nil))
		return
	}

	snap := tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"task_id":  tracker.TaskID,
		"progress": snap.Progress,
		"message":  snap.Message,
		"status":   snap.Status,
	})
}

// ===============================
// LLM配置
// ===============================

// GetLLMStatus 当前提供者状态与可用模型
func (h *Handler) GetLLMStatus(c *gin.Context) {
	name := h.LLMService.GetProviderName()
	c.JSON(http.StatusOK, gin.H{
		"ready":     h.LLMService.IsReady(),
		"provider":  name,
		"providers": llm.ListProviders(),
		"models":    llm.GetSupportedModelsForProvider(name),
	})
}

type llmConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config" binding:"required"`
}

// UpdateLLMConfig 切换提供者并持久化配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req llmConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("请求格式错误", err))
		return
	}

	if err := h.LLMService.SetProvider(req.Provider, req.Config); err != nil {
		respondError(c, err)
		return
	}
	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": req.Provider, "ready": h.LLMService.IsReady()})
}
