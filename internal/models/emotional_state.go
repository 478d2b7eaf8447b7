// internal/models/emotional_state.go
package models

const (
	// MoodHistoryLimit 情绪历史上限
	MoodHistoryLimit = 5
	// TriggerLogLimit 触发事件日志上限
	TriggerLogLimit = 5
)

// EmotionalState 角色的情感状态
// 由唯一的代理实例独占，只在回复后的更新步骤中变化
type EmotionalState struct {
	Mood        string   `json:"mood"`
	MoodHistory []string `json:"mood_history"`

	// 对用户的态度，[-1,1]
	Attitude float64 `json:"attitude"`
	// 对用户的信任度，[0,1]
	Trust float64 `json:"trust"`

	LastSignificant string   `json:"last_significant,omitempty"`
	Triggers        []string `json:"triggers,omitempty"`
}

// NewEmotionalState 创建初始情感状态
func NewEmotionalState(initialMood string) *EmotionalState {
	if initialMood == "" {
		initialMood = "平静"
	}
	return &EmotionalState{
		Mood:     initialMood,
		Attitude: 0.5,
		Trust:    0.3,
	}
}

// SetMood 切换当前情绪，旧情绪进入历史（最旧先淘汰）
func (s *EmotionalState) SetMood(mood string) {
	if mood == "" || mood == s.Mood {
		return
	}
	s.MoodHistory = append(s.MoodHistory, s.Mood)
	if len(s.MoodHistory) > MoodHistoryLimit {
		s.MoodHistory = s.MoodHistory[len(s.MoodHistory)-MoodHistoryLimit:]
	}
	s.Mood = mood
}

// RecentMoods 最近 n 次情绪变迁，含当前情绪，旧到新排列
func (s *EmotionalState) RecentMoods(n int) []string {
	moods := append(append([]string{}, s.MoodHistory...), s.Mood)
	if len(moods) > n {
		moods = moods[len(moods)-n:]
	}
	return moods
}

// Adjust 施加态度/信任增量并裁剪到合法区间
func (s *EmotionalState) Adjust(attitudeDelta, trustDelta float64) {
	s.Attitude = clamp(s.Attitude+attitudeDelta, -1, 1)
	s.Trust = clamp(s.Trust+trustDelta, 0, 1)
}

// RecordTrigger 记录一次显著交互及其触发文本
func (s *EmotionalState) RecordTrigger(text string) {
	s.LastSignificant = text
	s.Triggers = append(s.Triggers, text)
	if len(s.Triggers) > TriggerLogLimit {
		s.Triggers = s.Triggers[len(s.Triggers)-TriggerLogLimit:]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
