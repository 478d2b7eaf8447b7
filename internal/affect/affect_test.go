// internal/affect/affect_test.go
package affect

import "testing"

func TestKeywordScorer_PositiveInput(t *testing.T) {
	s := DefaultInputScorer()
	d := s.Score("谢谢你的帮助")

	if d.Attitude <= 0 || d.Trust <= 0 {
		t.Errorf("正向输入应产生正增量: %+v", d)
	}
}

func TestKeywordScorer_NegativeErodesFaster(t *testing.T) {
	s := DefaultInputScorer()
	pos := s.Score("谢谢")
	neg := s.Score("骗子，滚")

	if neg.Attitude >= 0 || neg.Trust >= 0 {
		t.Fatalf("负向输入应产生负增量: %+v", neg)
	}
	// 信任损耗快于积累
	if -neg.Trust <= pos.Trust {
		t.Errorf("负向信任增量幅度 %f 应大于正向 %f", -neg.Trust, pos.Trust)
	}
	if -neg.Attitude <= pos.Attitude {
		t.Errorf("负向态度增量幅度 %f 应大于正向 %f", -neg.Attitude, pos.Attitude)
	}
}

func TestKeywordScorer_NeutralText(t *testing.T) {
	s := DefaultInputScorer()
	d := s.Score("今天天气如何")
	if d.Attitude != 0 || d.Trust != 0 {
		t.Errorf("中性文本增量应为零: %+v", d)
	}
	if d = s.Score(""); d != (Delta{}) {
		t.Errorf("空文本增量应为零: %+v", d)
	}
}

func TestKeywordScorer_CaseInsensitive(t *testing.T) {
	s := DefaultInputScorer()
	if d := s.Score("THANK you so much"); d.Attitude <= 0 {
		t.Errorf("大小写不敏感匹配失败: %+v", d)
	}
}

func TestKeywordScorer_CustomWordLists(t *testing.T) {
	s := &KeywordScorer{
		PositiveWords: []string{"盟友"},
		PositiveDelta: Delta{Attitude: 0.2, Trust: 0.1},
	}
	d := s.Score("我们是盟友")
	if d.Attitude != 0.2 || d.Trust != 0.1 {
		t.Errorf("自定义词表未生效: %+v", d)
	}
}

func TestEmotionScorer(t *testing.T) {
	s := DefaultEmotionScorer()
	if d := s.Score("愤怒"); d.Attitude >= 0 {
		t.Errorf("负向情绪标签应产生负增量: %+v", d)
	}
	if d := s.Score("高兴"); d.Attitude <= 0 {
		t.Errorf("正向情绪标签应产生正增量: %+v", d)
	}
}

func TestDelta_Significant(t *testing.T) {
	cases := []struct {
		d    Delta
		want bool
	}{
		{Delta{Attitude: 0.1, Trust: 0.1}, false},
		{Delta{Attitude: 0.16}, true},
		{Delta{Trust: -0.2}, true},
		{Delta{Attitude: -0.15}, false}, // 恰好等于阈值不算显著
	}
	for _, tc := range cases {
		if got := tc.d.Significant(); got != tc.want {
			t.Errorf("Significant(%+v) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestAttitudeText_Tiers(t *testing.T) {
	cases := []struct {
		attitude float64
		want     string
	}{
		{0.9, "非常友好"},
		{0.8, "非常友好"},
		{0.7, "友好"},
		{0.5, "中立"},
		{0.3, "冷淡"},
		{0.1, "敌对"},
		{-0.8, "敌对"},
	}
	for _, tc := range cases {
		if got := AttitudeText(tc.attitude); got != tc.want {
			t.Errorf("AttitudeText(%f) = %s, want %s", tc.attitude, got, tc.want)
		}
	}
}

func TestRelationTier(t *testing.T) {
	if got := RelationTier(0.9, 0.8); got != "亲密信赖" {
		t.Errorf("高态度高信任 = %s", got)
	}
	if got := RelationTier(-0.5, 0.1); got != "敌对戒备" {
		t.Errorf("低态度低信任 = %s", got)
	}
	if got := RelationTier(0.5, 0.5); got != "中立观望" {
		t.Errorf("中间档 = %s", got)
	}
}
