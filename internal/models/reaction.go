// internal/models/reaction.go
package models

import "time"

// AgentReaction 角色对一次交互的结构化反应
type AgentReaction struct {
	CharacterID   string `json:"character_id"`
	CharacterName string `json:"character_name"`

	Thought string `json:"thought,omitempty"` // 私有推理
	Action  string `json:"action,omitempty"`
	Content string `json:"content"`
	// Dialogue 与 Content 同义，规范化后两者一致
	Dialogue string `json:"dialogue,omitempty"`

	Emotion         string `json:"emotion"`
	AddressingTo    string `json:"addressing_to"`
	IsSceneFinished bool   `json:"is_scene_finished"`

	// Fallback 表示这是模型失败后的确定性兜底反应
	Fallback  bool      `json:"fallback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize 统一字段别名并填充缺省值
// content 与 dialogue 互为同义词；情绪缺省为当前情绪；
// 称呼对象缺省为 "everyone"
func (r *AgentReaction) Normalize(currentMood string) {
	if r.Content == "" && r.Dialogue != "" {
		r.Content = r.Dialogue
	}
	if r.Dialogue == "" && r.Content != "" {
		r.Dialogue = r.Content
	}
	if r.Emotion == "" {
		r.Emotion = currentMood
	}
	if r.AddressingTo == "" {
		r.AddressingTo = "everyone"
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
}

// FallbackReaction 模型调用或解析失败时的兜底反应，保留当前情绪
func FallbackReaction(profile *CharacterProfile, currentMood string) *AgentReaction {
	r := &AgentReaction{
		CharacterID:   profile.ID,
		CharacterName: profile.Name,
		Thought:       "（系统异常，保持沉默）",
		Action:        "沉默了一会儿，然后点了点头",
		Content:       "嗯...",
		Emotion:       currentMood,
		Fallback:      true,
	}
	r.Normalize(currentMood)
	return r
}

// SilentReaction 旁白模式兜底：为指定角色合成一条中性的沉默反应
func SilentReaction(profile *CharacterProfile, currentMood string) *AgentReaction {
	r := &AgentReaction{
		CharacterID:   profile.ID,
		CharacterName: profile.Name,
		Action:        "沉默地看着眼前的一切",
		Content:       "……",
		Emotion:       currentMood,
		Fallback:      true,
	}
	r.Normalize(currentMood)
	return r
}
