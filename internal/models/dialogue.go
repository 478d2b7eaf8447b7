// internal/models/dialogue.go
package models

import "time"

// DefaultDialogueCapacity 对话窗口默认容量
const DefaultDialogueCapacity = 30

// DialogueTurn 一条对话记录
type DialogueTurn struct {
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Thought     string    `json:"thought,omitempty"` // 私有推理，只进提示词不对用户展示
	Emotion     string    `json:"emotion,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DialogueWindow 有界的按序对话窗口
// 追加到容量上限后按最旧先出淘汰
type DialogueWindow struct {
	turns    []DialogueTurn
	capacity int
}

// NewDialogueWindow 创建对话窗口，capacity 小于 1 时取默认容量
func NewDialogueWindow(capacity int) *DialogueWindow {
	if capacity < 1 {
		capacity = DefaultDialogueCapacity
	}
	return &DialogueWindow{capacity: capacity}
}

// Append 追加一条对话，超出容量时淘汰最旧条目
func (w *DialogueWindow) Append(turn DialogueTurn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	w.turns = append(w.turns, turn)
	if len(w.turns) > w.capacity {
		w.turns = w.turns[len(w.turns)-w.capacity:]
	}
}

// Recent 返回最近 n 条，旧到新排列；n 不足时返回全部
func (w *DialogueWindow) Recent(n int) []DialogueTurn {
	if n <= 0 || n >= len(w.turns) {
		return w.All()
	}
	out := make([]DialogueTurn, n)
	copy(out, w.turns[len(w.turns)-n:])
	return out
}

// All 返回窗口内全部对话的副本
func (w *DialogueWindow) All() []DialogueTurn {
	out := make([]DialogueTurn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Len 当前条目数
func (w *DialogueWindow) Len() int {
	return len(w.turns)
}

// Capacity 窗口容量
func (w *DialogueWindow) Capacity() int {
	return w.capacity
}
