// internal/services/narrator_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/gate"
	"github.com/Corphon/NovelCastMCP/internal/llm"
	"github.com/Corphon/NovelCastMCP/internal/models"
	"github.com/Corphon/NovelCastMCP/internal/parser"
	"github.com/Corphon/NovelCastMCP/internal/prompt"
	"github.com/Corphon/NovelCastMCP/internal/utils"
)

const narratorSystemPrompt = `你是群像场景的叙事导演。一次性给出场景中每个角色的反应，` +
	`严格按JSON格式输出，不要输出任何其他内容。`

const narratorPromptTemplate = `场景：{scene_context}

在场角色：
{participants}

用户刚刚的行动或发言：{user_input}

给出每个在场角色的反应（没有反应的角色可以省略）。输出JSON：
{"responses": [{"character_id": "", "name": "", "thought": "", "action": "", "content": "", "emotion": ""}]}`

// NarratorService 多角色场景的单次调用旁白模式
// 一次模型调用产出所有在场角色的反应，避免按角色逐个调用
type NarratorService struct {
	llm    *LLMService
	gates  *gate.Registry
	agents *AgentService

	logger  *utils.Logger
	metrics *utils.EngineMetrics
}

// NewNarratorService 创建旁白服务
func NewNarratorService(llmService *LLMService, gates *gate.Registry, agents *AgentService) *NarratorService {
	return &NarratorService{
		llm:     llmService,
		gates:   gates,
		agents:  agents,
		logger:  utils.GetLogger(),
		metrics: utils.NewEngineMetrics(),
	}
}

type narratorReply struct {
	Responses []models.AgentReaction `json:"responses"`
}

// Narrate 驱动一个多角色回合
// 回复不是合法结构化数据时退化为按角色名的正则提取；
// 仍然一无所获时为第一个角色合成沉默反应，场景永远不会零输出
func (s *NarratorService) Narrate(ctx context.Context, sessionID, userInput string, scene models.SceneContext) ([]*models.AgentReaction, error) {
	participants := s.agents.SessionAgents(sessionID)
	if len(participants) == 0 {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("会话 %s 中没有角色", sessionID), nil)
	}

	// 用户侧先进各自的窗口
	for _, agent := range participants {
		agent.mu.Lock()
		agent.window.Append(models.DialogueTurn{
			SpeakerID:   UserSpeakerID,
			SpeakerName: "用户",
			Text:        userInput,
		})
		agent.mu.Unlock()
	}

	sceneText := scene.Describe()
	if sceneText == "" {
		sceneText = "（未指定）"
	}

	userPrompt, err := prompt.Render(narratorPromptTemplate, map[string]string{
		"scene_context": sceneText,
		"participants":  condenseProfiles(participants),
		"user_input":    userInput,
	})
	if err != nil {
		return s.silentFloor(participants), nil
	}

	g := s.gates.For(sessionID)
	permit, err := g.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	resp, err := s.llm.CreateCompletion(ctx, llm.CompletionRequest{
		Prompt:       userPrompt,
		SystemPrompt: narratorSystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.silentFloor(participants), nil
	}

	reactions := s.parseReply(resp.Text, participants)
	if len(reactions) == 0 {
		return s.silentFloor(participants), nil
	}

	s.recordReactions(participants, reactions)
	return reactions, nil
}

// parseReply 三级解析：结构化 → 按名字的正则提取 → 空
func (s *NarratorService) parseReply(raw string, participants []*Agent) []*models.AgentReaction {
	var reply narratorReply
	if err := parser.ExtractInto(raw, &reply); err == nil && len(reply.Responses) > 0 {
		var out []*models.AgentReaction
		for i := range reply.Responses {
			r := &reply.Responses[i]
			agent := matchParticipant(participants, r.CharacterID, r.CharacterName)
			if agent == nil {
				continue
			}
			r.CharacterID = agent.Profile.ID
			r.CharacterName = agent.Profile.Name
			r.Normalize(agent.Emotional().Mood)
			out = append(out, r)
		}
		if len(out) > 0 {
			return out
		}
	}

	// 退化路径："角色名: 台词" 的逐行提取
	var out []*models.AgentReaction
	for _, agent := range participants {
		pattern := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(agent.Profile.Name) + `\s*[:：]\s*(.+)$`)
		match := pattern.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		r := &models.AgentReaction{
			CharacterID:   agent.Profile.ID,
			CharacterName: agent.Profile.Name,
			Content:       strings.TrimSpace(match[1]),
		}
		r.Normalize(agent.Emotional().Mood)
		out = append(out, r)
	}
	return out
}

// silentFloor 为第一个角色合成中性沉默反应
func (s *NarratorService) silentFloor(participants []*Agent) []*models.AgentReaction {
	first := participants[0]
	reaction := models.SilentReaction(first.Profile, first.Emotional().Mood)
	s.metrics.RecordFallbackReaction(first.Profile.ID)
	s.recordReactions(participants, []*models.AgentReaction{reaction})
	return []*models.AgentReaction{reaction}
}

// recordReactions 把各角色的反应写回其对话窗口
func (s *NarratorService) recordReactions(participants []*Agent, reactions []*models.AgentReaction) {
	byID := make(map[string]*Agent, len(participants))
	for _, agent := range participants {
		byID[agent.Profile.ID] = agent
	}

	for _, r := range reactions {
		agent, ok := byID[r.CharacterID]
		if !ok {
			continue
		}
		agent.mu.Lock()
		agent.window.Append(models.DialogueTurn{
			SpeakerID:   agent.Profile.ID,
			SpeakerName: agent.Profile.Name,
			Text:        r.Content,
			Thought:     r.Thought,
			Emotion:     r.Emotion,
		})
		agent.emotional.SetMood(r.Emotion)
		agent.mu.Unlock()
	}
}

// condenseProfiles 压缩的角色卡列表，控制单次调用的提示词长度
func condenseProfiles(participants []*Agent) string {
	var b strings.Builder
	for _, agent := range participants {
		p := agent.Profile
		emotional := agent.Emotional()
		fmt.Fprintf(&b, "- %s（id: %s）", p.Name, p.ID)
		if p.Personality != "" {
			fmt.Fprintf(&b, " 性格: %s；", truncate(p.Personality, 60))
		}
		fmt.Fprintf(&b, " 当前情绪: %s\n", emotional.Mood)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func matchParticipant(participants []*Agent, id, name string) *Agent {
	for _, agent := range participants {
		if id != "" && agent.Profile.ID == id {
			return agent
		}
	}
	for _, agent := range participants {
		if name != "" && agent.Profile.Name == name {
			return agent
		}
	}
	return nil
}
