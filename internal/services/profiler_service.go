// internal/services/profiler_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/NovelCastMCP/internal/config"
	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/gate"
	"github.com/Corphon/NovelCastMCP/internal/models"
	"github.com/Corphon/NovelCastMCP/internal/prompt"
	"github.com/Corphon/NovelCastMCP/internal/storage"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

// 单个窗口的提取超时
const windowTimeout = 90 * time.Second

const profilerSystemPrompt = `你是小说角色分析专家。根据给出的文本片段提取指定角色的信息，` +
	`严格按JSON格式输出，不要输出任何其他内容。未提及的字段留空。`

const profilerPromptTemplate = `分析以下文本片段中的角色「{character_name}」。

文本片段：
{window_text}

输出JSON，字段：
{"age": "", "gender": "", "appearance": "", "personality": "", "background": "",
 "traits": [], "behavior_rules": [], "possessions": [], "voice_samples": [],
 "relationships": [{"target_id": "", "address_as": "", "attitude": ""}],
 "importance": 0}`

// CharacterInfo 待分析角色的标识信息
type CharacterInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// ProfilerService 分块文档角色分析
// 超长文档切成重叠窗口逐个提取，再合并成一份完整档案
type ProfilerService struct {
	llm      *LLMService
	gates    *gate.Registry
	store    *storage.ProfileStore
	progress *ProgressService

	simCfg  config.SimulationConfig
	logger  *utils.Logger
	metrics *utils.EngineMetrics
}

// NewProfilerService 创建角色分析服务
// store 与 progress 可以为 nil，对应能力自动关闭
func NewProfilerService(llmService *LLMService, gates *gate.Registry, store *storage.ProfileStore, progress *ProgressService, simCfg config.SimulationConfig) *ProfilerService {
	if simCfg.ChunkWindow < 1 {
		simCfg.ChunkWindow = 50000
	}
	if simCfg.ChunkOverlap < 0 || simCfg.ChunkOverlap >= simCfg.ChunkWindow {
		simCfg.ChunkOverlap = 2000
	}
	if simCfg.TokenDivisor <= 0 {
		simCfg.TokenDivisor = 1.5
	}
	return &ProfilerService{
		llm:      llmService,
		gates:    gates,
		store:    store,
		progress: progress,
		simCfg:   simCfg,
		logger:   utils.GetLogger(),
		metrics:  utils.NewEngineMetrics(),
	}
}

// EstimateTokens 粗略的token估算
func (s *ProfilerService) EstimateTokens(document string) int {
	return int(float64(len([]rune(document))) / s.simCfg.TokenDivisor)
}

// windowResult 单个窗口的提取结果
type windowResult struct {
	index int
	draft *models.ProfileDraft
	err   error
}

// ProfileCharacter 从文档中提取角色档案
// 单个窗口失败只记录跳过，整个文档不中止；失败窗口在收尾阶段带退避重试
func (s *ProfilerService) ProfileCharacter(ctx context.Context, document string, info CharacterInfo) (*models.CharacterProfile, error) {
	if err := validateProfileInput(document, info); err != nil {
		return nil, err
	}
	return s.profileWithTask(ctx, "profile_"+uuid.NewString(), document, info)
}

// ProfileCharacterAsync 后台执行角色分析，返回可用于进度查询的任务标识
func (s *ProfilerService) ProfileCharacterAsync(document string, info CharacterInfo) (string, error) {
	if err := validateProfileInput(document, info); err != nil {
		return "", err
	}

	taskID := "profile_" + uuid.NewString()
	if s.progress != nil {
		s.progress.CreateTracker(taskID)
	}

	go func() {
		if _, err := s.profileWithTask(context.Background(), taskID, document, info); err != nil {
			s.logger.Error("后台角色分析失败", map[string]interface{}{
				"task":      taskID,
				"character": info.Name,
				"error":     err.Error(),
			})
		}
	}()
	return taskID, nil
}

func validateProfileInput(document string, info CharacterInfo) error {
	if info.ID == "" || info.Name == "" {
		return apperrors.NewValidationError("角色标识信息不完整", nil)
	}
	if strings.TrimSpace(document) == "" {
		return apperrors.NewValidationError("文档为空", nil)
	}
	return nil
}

func (s *ProfilerService) profileWithTask(ctx context.Context, taskID, document string, info CharacterInfo) (*models.CharacterProfile, error) {
	defer s.gates.Drop(taskID)

	var tracker *ProgressTracker
	if s.progress != nil {
		tracker = s.progress.CreateTracker(taskID)
	}

	windows := s.splitWindows(document)
	retained := s.filterWindows(windows, info)

	s.logger.Info("开始角色分析 🎭", map[string]interface{}{
		"character": info.Name,
		"windows":   len(windows),
		"retained":  len(retained),
		"tokens":    s.EstimateTokens(document),
	})

	results := s.extractWindows(ctx, taskID, retained, info, tracker)

	// 失败窗口的收尾重试，只重试出错的单元
	var failed []retainedWindow
	drafts := make(map[int]*models.ProfileDraft, len(results))
	for _, r := range results {
		if r.err != nil {
			s.metrics.RecordProfilerWindow("failed")
			for _, w := range retained {
				if w.index == r.index {
					failed = append(failed, w)
					break
				}
			}
			continue
		}
		s.metrics.RecordProfilerWindow("processed")
		drafts[r.index] = r.draft
	}

	for _, w := range failed {
		if ctx.Err() != nil {
			break
		}
		draft, err := s.extractOne(ctx, taskID, w.text, info, true)
		if err != nil {
			s.logger.Warn("窗口重试仍失败，跳过", map[string]interface{}{
				"character": info.Name,
				"window":    w.index,
				"error":     err.Error(),
			})
			continue
		}
		drafts[w.index] = draft
	}

	// 按窗口顺序合并，保证自由文本的拼接顺序确定
	merged := &models.ProfileDraft{}
	for _, w := range retained {
		if draft, ok := drafts[w.index]; ok {
			merged.Merge(draft)
		}
	}

	profile := merged.ToProfile(info.ID, info.Name)
	profile.CreatedAt = time.Now()
	if err := profile.Validate(); err != nil {
		if tracker != nil {
			tracker.Fail(err.Error())
		}
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SaveProfile(profile); err != nil {
			s.logger.Warn("角色档案保存失败", map[string]interface{}{
				"character": info.Name,
				"error":     err.Error(),
			})
		}
	}

	if tracker != nil {
		tracker.Complete(fmt.Sprintf("角色 %s 分析完成", info.Name))
	}
	return profile, nil
}

type retainedWindow struct {
	index int
	text  string
}

// splitWindows 按固定窗口大小和重叠切分文档
// 窗口 i 从 i*(W-O) 开始，触及文档末尾后停止
func (s *ProfilerService) splitWindows(document string) []string {
	runes := []rune(document)
	w := s.simCfg.ChunkWindow
	step := w - s.simCfg.ChunkOverlap

	if len(runes) <= w {
		return []string{document}
	}

	var windows []string
	for start := 0; start < len(runes); start += step {
		end := start + w
		if end >= len(runes) {
			windows = append(windows, string(runes[start:]))
			break
		}
		windows = append(windows, string(runes[start:end]))
	}
	return windows
}

// filterWindows 廉价的相关性预筛：角色名或别名未出现的窗口直接跳过
func (s *ProfilerService) filterWindows(windows []string, info CharacterInfo) []retainedWindow {
	names := append([]string{info.Name}, info.Aliases...)

	var retained []retainedWindow
	for i, text := range windows {
		mentioned := false
		for _, name := range names {
			if name != "" && strings.Contains(text, name) {
				mentioned = true
				break
			}
		}
		if mentioned {
			retained = append(retained, retainedWindow{index: i, text: text})
		} else {
			s.metrics.RecordProfilerWindow("skipped")
		}
	}
	return retained
}

// extractWindows 并发提取各窗口，结果按窗口索引返回
func (s *ProfilerService) extractWindows(ctx context.Context, taskID string, retained []retainedWindow, info CharacterInfo, tracker *ProgressTracker) []windowResult {
	results := make([]windowResult, len(retained))
	var wg sync.WaitGroup
	var done int64
	var doneMu sync.Mutex

	for i, w := range retained {
		wg.Add(1)
		go func(slot int, win retainedWindow) {
			defer wg.Done()

			draft, err := s.extractOne(ctx, taskID, win.text, info, false)
			results[slot] = windowResult{index: win.index, draft: draft, err: err}

			if tracker != nil {
				doneMu.Lock()
				done++
				percent := int(done) * 100 / len(retained)
				doneMu.Unlock()
				tracker.UpdateProgress(percent, fmt.Sprintf("已处理 %d/%d 个窗口", done, len(retained)))
			}
		}(i, w)
	}
	wg.Wait()
	return results
}

// extractOne 提取单个窗口，在并发门许可下调用模型
func (s *ProfilerService) extractOne(ctx context.Context, taskID, windowText string, info CharacterInfo, withRetry bool) (*models.ProfileDraft, error) {
	g := s.gates.For(taskID)
	permit, err := g.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	callCtx, cancel := context.WithTimeout(ctx, windowTimeout)
	defer cancel()

	userPrompt, err := prompt.Render(profilerPromptTemplate, map[string]string{
		"character_name": info.Name,
		"window_text":    windowText,
	})
	if err != nil {
		return nil, err
	}

	var draft models.ProfileDraft
	if withRetry {
		err = s.llm.CreateStructuredCompletionWithRetry(callCtx, userPrompt, profilerSystemPrompt, &draft)
	} else {
		err = s.llm.CreateStructuredCompletion(callCtx, userPrompt, profilerSystemPrompt, &draft)
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}
