// internal/models/models_test.go
package models

import (
	"fmt"
	"reflect"
	"testing"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

func TestCharacterProfile_Validate(t *testing.T) {
	cases := []struct {
		name    string
		profile CharacterProfile
		wantErr bool
	}{
		{"合法", CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 80}, false},
		{"重要度下界", CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 0}, false},
		{"重要度上界", CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 100}, false},
		{"重要度超上界", CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 101}, true},
		{"重要度为负", CharacterProfile{ID: "npc_001", Name: "林晨", Importance: -1}, true},
		{"缺少ID", CharacterProfile{Name: "林晨", Importance: 50}, true},
		{"缺少名称", CharacterProfile{ID: "npc_001", Importance: 50}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.profile.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !apperrors.IsValidationError(err) {
				t.Errorf("错误类型 = %v, 期望 ValidationError", err)
			}
		})
	}
}

func TestRelationshipTo_RuntimeOverlay(t *testing.T) {
	profile := &CharacterProfile{
		ID: "npc_001", Name: "林晨", Importance: 50,
		Relationships: map[string]Relationship{
			"npc_002": {AddressAs: "师兄", Attitude: "尊敬"},
		},
	}
	runtime := map[string]Relationship{
		"npc_002": {AddressAs: "师兄", Attitude: "疏远"},
	}

	rel, ok := profile.RelationshipTo("npc_002", runtime)
	if !ok || rel.Attitude != "疏远" {
		t.Errorf("覆盖层应优先: %v %v", rel, ok)
	}

	// 覆盖层从不改写档案
	if profile.Relationships["npc_002"].Attitude != "尊敬" {
		t.Error("档案自带关系被修改了")
	}

	rel, ok = profile.RelationshipTo("npc_002", nil)
	if !ok || rel.Attitude != "尊敬" {
		t.Errorf("无覆盖层时应回退到档案: %v %v", rel, ok)
	}
}

func TestProfileDraft_MergeScalarFirstWriteWins(t *testing.T) {
	draft := &ProfileDraft{}
	draft.Merge(&ProfileDraft{Age: "", Appearance: "A"})
	draft.Merge(&ProfileDraft{Age: "25", Appearance: "B"})

	if draft.Age != "25" {
		t.Errorf("Age = %q, want 25", draft.Age)
	}
	if draft.Appearance != "A\nB" {
		t.Errorf("Appearance = %q, want A\\nB", draft.Appearance)
	}

	// 已有标量不被后续窗口覆盖
	draft.Merge(&ProfileDraft{Age: "30"})
	if draft.Age != "25" {
		t.Errorf("Age 被覆盖为 %q", draft.Age)
	}
}

func TestProfileDraft_MergeDisjointPartials(t *testing.T) {
	draft := &ProfileDraft{}
	draft.Merge(&ProfileDraft{
		Gender:      "female",
		Personality: "沉稳",
		Relationships: []RelationshipClaim{
			{TargetID: "npc_002", Attitude: "尊敬"},
		},
	})
	draft.Merge(&ProfileDraft{
		Age:        "25",
		Background: "出身江南",
		Relationships: []RelationshipClaim{
			{TargetID: "npc_003", Attitude: "敌对"},
		},
	})

	if draft.Gender != "female" || draft.Age != "25" {
		t.Errorf("标量合并错误: %+v", draft)
	}
	if draft.Personality != "沉稳" || draft.Background != "出身江南" {
		t.Errorf("自由文本合并错误: %+v", draft)
	}
	if len(draft.Relationships) != 2 {
		t.Errorf("关系并集长度 = %d", len(draft.Relationships))
	}
}

func TestProfileDraft_MergeRelationshipDedup(t *testing.T) {
	draft := &ProfileDraft{}
	claim := RelationshipClaim{TargetID: "npc_002", AddressAs: "师兄", Attitude: "尊敬"}
	draft.Merge(&ProfileDraft{Relationships: []RelationshipClaim{claim}})
	draft.Merge(&ProfileDraft{Relationships: []RelationshipClaim{claim}})
	// 同目标不同态度标签视为不同的关系断言
	draft.Merge(&ProfileDraft{Relationships: []RelationshipClaim{
		{TargetID: "npc_002", AddressAs: "师兄", Attitude: "疏远"},
	}})

	if len(draft.Relationships) != 2 {
		t.Errorf("关系条数 = %d, want 2", len(draft.Relationships))
	}
}

func TestProfileDraft_MergeIdempotentWithEmpty(t *testing.T) {
	draft := &ProfileDraft{}
	draft.Merge(&ProfileDraft{Age: "30", Appearance: "高瘦", Traits: []string{"冷静"}})

	before := *draft
	beforeTraits := append([]string{}, draft.Traits...)
	beforeRels := append([]RelationshipClaim{}, draft.Relationships...)

	draft.Merge(&ProfileDraft{})
	draft.Merge(nil)

	if draft.Age != before.Age || draft.Appearance != before.Appearance {
		t.Errorf("空合并改变了结果: %+v", draft)
	}
	if !reflect.DeepEqual(draft.Traits, beforeTraits) {
		t.Errorf("Traits 变化: %v", draft.Traits)
	}
	if !reflect.DeepEqual(draft.Relationships, beforeRels) {
		t.Errorf("Relationships 变化: %v", draft.Relationships)
	}
}

func TestProfileDraft_ToProfile(t *testing.T) {
	draft := &ProfileDraft{
		Age: "25", Gender: "male", Importance: 70,
		Relationships: []RelationshipClaim{
			{TargetID: "npc_002", AddressAs: "师兄", Attitude: "尊敬"},
			{TargetID: "npc_002", AddressAs: "师兄", Attitude: "疏远"},
		},
	}
	profile := draft.ToProfile("npc_001", "林晨")

	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if profile.Relationships["npc_002"].Attitude != "尊敬" {
		t.Errorf("同目标应保留第一条: %v", profile.Relationships["npc_002"])
	}
}

func TestEmotionalState_MoodHistoryBounded(t *testing.T) {
	s := NewEmotionalState("平静")
	moods := []string{"好奇", "高兴", "警惕", "愤怒", "平静", "悲伤", "高兴"}
	for _, m := range moods {
		s.SetMood(m)
	}

	if len(s.MoodHistory) != MoodHistoryLimit {
		t.Errorf("历史长度 = %d, want %d", len(s.MoodHistory), MoodHistoryLimit)
	}
	if s.Mood != "高兴" {
		t.Errorf("Mood = %s", s.Mood)
	}
	// 最旧的被淘汰，保留顺序
	want := []string{"高兴", "警惕", "愤怒", "平静", "悲伤"}
	if !reflect.DeepEqual(s.MoodHistory, want) {
		t.Errorf("MoodHistory = %v, want %v", s.MoodHistory, want)
	}
}

func TestEmotionalState_SetMoodIgnoresNoop(t *testing.T) {
	s := NewEmotionalState("平静")
	s.SetMood("")
	s.SetMood("平静")
	if len(s.MoodHistory) != 0 {
		t.Errorf("无效切换不应写入历史: %v", s.MoodHistory)
	}
}

func TestEmotionalState_AdjustClamps(t *testing.T) {
	s := NewEmotionalState("平静")
	for i := 0; i < 100; i++ {
		s.Adjust(-0.3, -0.25)
	}
	if s.Attitude < -1 || s.Attitude > 1 {
		t.Errorf("Attitude = %f 越界", s.Attitude)
	}
	if s.Trust < 0 || s.Trust > 1 {
		t.Errorf("Trust = %f 越界", s.Trust)
	}
	if s.Attitude != -1 || s.Trust != 0 {
		t.Errorf("持续负向后应钉在下界: attitude=%f trust=%f", s.Attitude, s.Trust)
	}

	for i := 0; i < 100; i++ {
		s.Adjust(0.4, 0.4)
	}
	if s.Attitude != 1 || s.Trust != 1 {
		t.Errorf("持续正向后应钉在上界: attitude=%f trust=%f", s.Attitude, s.Trust)
	}
}

func TestEmotionalState_TriggerLogBounded(t *testing.T) {
	s := NewEmotionalState("平静")
	for i := 0; i < 8; i++ {
		s.RecordTrigger(fmt.Sprintf("事件%d", i))
	}
	if len(s.Triggers) != TriggerLogLimit {
		t.Errorf("触发日志长度 = %d", len(s.Triggers))
	}
	if s.Triggers[len(s.Triggers)-1] != "事件7" {
		t.Errorf("最新事件 = %s", s.Triggers[len(s.Triggers)-1])
	}
	if s.LastSignificant != "事件7" {
		t.Errorf("LastSignificant = %s", s.LastSignificant)
	}
}

func TestDialogueWindow_Eviction(t *testing.T) {
	w := NewDialogueWindow(30)
	for i := 0; i < 40; i++ {
		w.Append(DialogueTurn{SpeakerID: "user", Text: fmt.Sprintf("回合%d", i)})
	}

	if w.Len() != 30 {
		t.Fatalf("Len = %d, want 30", w.Len())
	}
	all := w.All()
	if all[0].Text != "回合10" {
		t.Errorf("最旧条目 = %s, want 回合10", all[0].Text)
	}
	if all[29].Text != "回合39" {
		t.Errorf("最新条目 = %s, want 回合39", all[29].Text)
	}
	// 顺序保持旧到新
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatal("时间顺序被破坏")
		}
	}
}

func TestDialogueWindow_Recent(t *testing.T) {
	w := NewDialogueWindow(10)
	for i := 0; i < 5; i++ {
		w.Append(DialogueTurn{Text: fmt.Sprintf("t%d", i)})
	}

	recent := w.Recent(3)
	if len(recent) != 3 || recent[0].Text != "t2" || recent[2].Text != "t4" {
		t.Errorf("Recent(3) = %v", recent)
	}
	if got := w.Recent(100); len(got) != 5 {
		t.Errorf("Recent(100) 长度 = %d", len(got))
	}
}

func TestAgentReaction_Normalize(t *testing.T) {
	r := &AgentReaction{Dialogue: "你好"}
	r.Normalize("好奇")

	if r.Content != "你好" {
		t.Errorf("Content = %q", r.Content)
	}
	if r.Emotion != "好奇" {
		t.Errorf("Emotion = %q", r.Emotion)
	}
	if r.AddressingTo != "everyone" {
		t.Errorf("AddressingTo = %q", r.AddressingTo)
	}
	if r.IsSceneFinished {
		t.Error("IsSceneFinished 应默认 false")
	}

	r2 := &AgentReaction{Content: "再见", Emotion: "平静", AddressingTo: "npc_002"}
	r2.Normalize("好奇")
	if r2.Dialogue != "再见" || r2.Emotion != "平静" || r2.AddressingTo != "npc_002" {
		t.Errorf("已有字段不应被覆盖: %+v", r2)
	}
}

func TestFallbackReaction(t *testing.T) {
	profile := &CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 50}
	r := FallbackReaction(profile, "警惕")

	if !r.Fallback {
		t.Error("Fallback 标志缺失")
	}
	if r.Emotion != "警惕" {
		t.Errorf("兜底反应应保留当前情绪: %s", r.Emotion)
	}
	if r.Content == "" || r.Dialogue == "" {
		t.Error("兜底反应必须有内容")
	}
}
