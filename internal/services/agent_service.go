// internal/services/agent_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/NovelCastMCP/internal/affect"
	"github.com/Corphon/NovelCastMCP/internal/config"
	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/gate"
	"github.com/Corphon/NovelCastMCP/internal/llm"
	"github.com/Corphon/NovelCastMCP/internal/models"
	"github.com/Corphon/NovelCastMCP/internal/parser"
	"github.com/Corphon/NovelCastMCP/internal/prompt"
	"github.com/Corphon/NovelCastMCP/internal/storage"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

// AgentState 代理状态机状态
type AgentState int

const (
	StateIdle AgentState = iota
	StateRendering
	StateAwaitingModel
	StateUpdating
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRendering:
		return "rendering"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// UserSpeakerID 对话窗口中用户侧的固定标识
const UserSpeakerID = "user"

const agentSystemPrompt = `你是沉浸式叙事模拟中的角色扮演引擎。完全以角色身份行动，` +
	`用与用户输入相同的语言回复，严格按要求的JSON格式输出，不要输出任何其他内容。`

const agentPromptTemplate = `你正在扮演角色「{name}」。

角色设定：
{persona}

行为准则：
{behavior_rules}

人际关系：
{relationships}

当前情绪：{mood}
最近情绪变化：{mood_history}
对用户的态度：{attitude_text}；信任程度：{trust_text}

场景：{scene_context}
本回合指引：{director_instruction}

最近对话：
{dialogue_history}

用户刚刚的行动或发言：{user_input}

以「{name}」的身份反应。输出JSON：
{"thought": "内心想法（不会展示给用户）", "action": "动作描写", "content": "说出的话",
 "emotion": "当前情绪", "addressing_to": "说话对象", "is_scene_finished": false}`

// Agent 单个角色的会话期代理
// 档案只读共享；情感状态、对话窗口和关系覆盖层由本实例独占
type Agent struct {
	Profile *models.CharacterProfile

	emotional    *models.EmotionalState
	window       *models.DialogueWindow
	runtimeRels  map[string]models.Relationship
	state        AgentState
	promptLength int

	// 每个代理内回合严格有序
	mu sync.Mutex
}

// NewAgent 基于角色档案实例化代理
func NewAgent(profile *models.CharacterProfile, dialogueCapacity, promptHistory int) *Agent {
	if promptHistory < 1 {
		promptHistory = 12
	}
	return &Agent{
		Profile:      profile,
		emotional:    models.NewEmotionalState(""),
		window:       models.NewDialogueWindow(dialogueCapacity),
		runtimeRels:  make(map[string]models.Relationship),
		state:        StateIdle,
		promptLength: promptHistory,
	}
}

// State 当前状态机状态
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Emotional 情感状态快照
func (a *Agent) Emotional() models.EmotionalState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.emotional
}

// Dialogue 对话窗口内容的副本
func (a *Agent) Dialogue() []models.DialogueTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window.All()
}

// RuntimeRelationship 运行时关系覆盖层中的条目
func (a *Agent) RuntimeRelationship(targetID string) (models.Relationship, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rel, ok := a.Profile.RelationshipTo(targetID, a.runtimeRels)
	return rel, ok
}

// AgentService 管理会话内的角色代理并驱动 react 回合
type AgentService struct {
	llm   *LLMService
	gates *gate.Registry
	store *storage.ProfileStore

	inputScorer   affect.Scorer
	emotionScorer affect.Scorer

	simCfg  config.SimulationConfig
	logger  *utils.Logger
	metrics *utils.EngineMetrics

	mu       sync.RWMutex
	sessions map[string]map[string]*Agent // sessionID -> characterID -> agent
}

// NewAgentService 创建代理服务
// store 为 nil 时关闭回合快照；评分器可通过 SetScorers 替换
func NewAgentService(llmService *LLMService, gates *gate.Registry, store *storage.ProfileStore, simCfg config.SimulationConfig) *AgentService {
	return &AgentService{
		llm:           llmService,
		gates:         gates,
		store:         store,
		inputScorer:   affect.DefaultInputScorer(),
		emotionScorer: affect.DefaultEmotionScorer(),
		simCfg:        simCfg,
		logger:        utils.GetLogger(),
		metrics:       utils.NewEngineMetrics(),
		sessions:      make(map[string]map[string]*Agent),
	}
}

// SetScorers 替换态度/信任评分器，传 nil 保持原值
func (s *AgentService) SetScorers(input, emotion affect.Scorer) {
	if input != nil {
		s.inputScorer = input
	}
	if emotion != nil {
		s.emotionScorer = emotion
	}
}

// SpawnAgent 在会话中实例化角色代理，同一角色重复创建时复用
func (s *AgentService) SpawnAgent(sessionID string, profile *models.CharacterProfile) (*Agent, error) {
	if sessionID == "" {
		return nil, apperrors.NewValidationError("会话标识不能为空", nil)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agents, ok := s.sessions[sessionID]
	if !ok {
		agents = make(map[string]*Agent)
		s.sessions[sessionID] = agents
	}
	if agent, exists := agents[profile.ID]; exists {
		return agent, nil
	}

	agent := NewAgent(profile, s.simCfg.DialogueCapacity, s.simCfg.PromptHistory)
	agents[profile.ID] = agent
	return agent, nil
}

// GetAgent 查找会话中的代理
func (s *AgentService) GetAgent(sessionID, characterID string) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	agent, ok := agents[characterID]
	return agent, ok
}

// SessionAgents 会话中全部代理，按角色ID排序保证遍历顺序稳定
func (s *AgentService) SessionAgents(sessionID string) []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Agent, 0, len(s.sessions[sessionID]))
	for _, agent := range s.sessions[sessionID] {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Profile.ID < out[j].Profile.ID
	})
	return out
}

// DropSession 结束会话：移除代理并回收其并发门作用域
func (s *AgentService) DropSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.gates.Drop(sessionID)
}

// React 驱动一个角色回合
// 用户输入先进对话窗口再调用模型；模型或解析失败时返回确定性兜底反应；
// 调用方取消时返回取消错误，代理侧回合不会写入窗口
func (s *AgentService) React(ctx context.Context, sessionID, characterID, userInput string, scene models.SceneContext, directorHint string) (*models.AgentReaction, error) {
	agent, ok := s.GetAgent(sessionID, characterID)
	if !ok {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("会话 %s 中不存在角色 %s", sessionID, characterID), nil)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	defer func() { agent.state = StateIdle }()

	// Idle → Rendering：用户侧先入窗口，提示词里已经包含本回合输入
	agent.state = StateRendering
	agent.window.Append(models.DialogueTurn{
		SpeakerID:   UserSpeakerID,
		SpeakerName: "用户",
		Text:        userInput,
	})

	userPrompt, err := s.buildPrompt(agent, userInput, scene, directorHint)
	if err != nil {
		// 模板装配失败属于实现缺陷，这一回合仍然给出兜底反应
		s.logger.Error("提示词装配失败", map[string]interface{}{
			"character": characterID,
			"error":     err.Error(),
		})
		return s.fallback(agent), nil
	}

	// Rendering → AwaitingModel：在会话的并发门许可下调用
	agent.state = StateAwaitingModel
	g := s.gates.For(sessionID)
	permit, err := g.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	resp, err := s.llm.CreateCompletion(ctx, llm.CompletionRequest{
		Prompt:       userPrompt,
		SystemPrompt: agentSystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.fallback(agent), nil
	}

	// AwaitingModel → Updating
	agent.state = StateUpdating

	var reaction models.AgentReaction
	if err := parser.ExtractInto(resp.Text, &reaction); err != nil {
		s.metrics.RecordExtractionRecovery(true)
		return s.fallback(agent), nil
	}
	s.metrics.RecordExtractionRecovery(false)

	reaction.CharacterID = agent.Profile.ID
	reaction.CharacterName = agent.Profile.Name
	reaction.Normalize(agent.emotional.Mood)

	agent.window.Append(models.DialogueTurn{
		SpeakerID:   agent.Profile.ID,
		SpeakerName: agent.Profile.Name,
		Text:        reaction.Content,
		Thought:     reaction.Thought,
		Emotion:     reaction.Emotion,
	})

	s.applyAffectUpdate(agent, userInput, reaction.Emotion)
	agent.emotional.SetMood(reaction.Emotion)

	s.snapshotTurn(sessionID, agent, userInput, &reaction)

	return &reaction, nil
}

// fallback 生成兜底反应并写入窗口，当前情绪保持不变
func (s *AgentService) fallback(agent *Agent) *models.AgentReaction {
	reaction := models.FallbackReaction(agent.Profile, agent.emotional.Mood)
	agent.window.Append(models.DialogueTurn{
		SpeakerID:   agent.Profile.ID,
		SpeakerName: agent.Profile.Name,
		Text:        reaction.Content,
		Thought:     reaction.Thought,
		Emotion:     reaction.Emotion,
	})
	s.metrics.RecordFallbackReaction(agent.Profile.ID)
	return reaction
}

// applyAffectUpdate 根据用户输入和模型情绪更新态度/信任
// 增量显著时记录触发事件，并刷新对用户的运行时关系描述
func (s *AgentService) applyAffectUpdate(agent *Agent, userInput, emotion string) {
	delta := s.inputScorer.Score(userInput).Add(s.emotionScorer.Score(emotion))
	agent.emotional.Adjust(delta.Attitude, delta.Trust)

	if delta.Significant() {
		agent.emotional.RecordTrigger(userInput)
	}

	addressAs := "你"
	if rel, ok := agent.Profile.RelationshipTo(UserSpeakerID, agent.runtimeRels); ok && rel.AddressAs != "" {
		addressAs = rel.AddressAs
	}
	agent.runtimeRels[UserSpeakerID] = models.Relationship{
		AddressAs: addressAs,
		Attitude:  affect.RelationTier(agent.emotional.Attitude, agent.emotional.Trust),
	}
}

// buildPrompt 装配角色回合提示词
func (s *AgentService) buildPrompt(agent *Agent, userInput string, scene models.SceneContext, directorHint string) (string, error) {
	p := agent.Profile

	var persona strings.Builder
	if p.Age != "" {
		fmt.Fprintf(&persona, "年龄: %s\n", p.Age)
	}
	if p.Gender != "" {
		fmt.Fprintf(&persona, "性别: %s\n", p.Gender)
	}
	if p.Personality != "" {
		fmt.Fprintf(&persona, "性格: %s\n", p.Personality)
	}
	if p.Background != "" {
		fmt.Fprintf(&persona, "背景: %s\n", p.Background)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&persona, "特质: %s\n", strings.Join(p.Traits, "、"))
	}
	if len(p.VoiceSamples) > 0 {
		fmt.Fprintf(&persona, "说话风格示例: %s\n", strings.Join(p.VoiceSamples, " / "))
	}
	if persona.Len() == 0 {
		persona.WriteString("（暂无详细设定）")
	}

	rules := "（无特别准则）"
	if len(p.BehaviorRules) > 0 {
		rules = "- " + strings.Join(p.BehaviorRules, "\n- ")
	}

	sceneText := scene.Describe()
	if sceneText == "" {
		sceneText = "（未指定）"
	}
	if directorHint == "" {
		directorHint = "（无）"
	}

	moods := agent.emotional.RecentMoods(3)

	return prompt.Render(agentPromptTemplate, map[string]string{
		"name":                 p.Name,
		"persona":              persona.String(),
		"behavior_rules":       rules,
		"relationships":        s.renderRelationships(agent),
		"mood":                 agent.emotional.Mood,
		"mood_history":         strings.Join(moods, " → "),
		"attitude_text":        affect.AttitudeText(agent.emotional.Attitude),
		"trust_text":           trustText(agent.emotional.Trust),
		"scene_context":        sceneText,
		"director_instruction": directorHint,
		"dialogue_history":     s.renderDialogue(agent),
		"user_input":           userInput,
	})
}

// renderRelationships 合并覆盖层后的关系文本
func (s *AgentService) renderRelationships(agent *Agent) string {
	merged := make(map[string]models.Relationship, len(agent.Profile.Relationships)+len(agent.runtimeRels))
	for id, rel := range agent.Profile.Relationships {
		merged[id] = rel
	}
	for id, rel := range agent.runtimeRels {
		merged[id] = rel
	}
	if len(merged) == 0 {
		return "（无已知关系）"
	}

	var b strings.Builder
	for id, rel := range merged {
		fmt.Fprintf(&b, "- %s: 称呼「%s」，态度 %s\n", id, rel.AddressAs, rel.Attitude)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderDialogue 最近的对话历史，含各自的心理与情绪标注
func (s *AgentService) renderDialogue(agent *Agent) string {
	turns := agent.window.Recent(agent.promptLength)
	if len(turns) == 0 {
		return "（对话刚刚开始）"
	}

	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s", turn.SpeakerName, turn.Text)
		if turn.Emotion != "" {
			fmt.Fprintf(&b, " [情绪: %s]", turn.Emotion)
		}
		if turn.Thought != "" && turn.SpeakerID == agent.Profile.ID {
			fmt.Fprintf(&b, "（心理: %s）", turn.Thought)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func trustText(trust float64) string {
	switch {
	case trust >= 0.7:
		return "深度信任"
	case trust >= 0.4:
		return "有所保留"
	default:
		return "心存戒备"
	}
}

// snapshotTurn 可选的回合快照持久化，失败只记日志
func (s *AgentService) snapshotTurn(sessionID string, agent *Agent, userInput string, reaction *models.AgentReaction) {
	if s.store == nil {
		return
	}

	snap := &storage.TurnSnapshot{
		SessionID: sessionID,
		TurnID:    fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		UserInput: userInput,
		Reaction:  reaction,
		Mood:      agent.emotional.Mood,
		Attitude:  agent.emotional.Attitude,
		Trust:     agent.emotional.Trust,
	}
	if err := s.store.SaveTurnSnapshot(snap); err != nil {
		s.logger.Warn("回合快照保存失败", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}
