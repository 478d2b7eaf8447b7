// internal/affect/affect.go
package affect

import "strings"

// SignificanceThreshold 增量幅度超过该值时记为显著交互
const SignificanceThreshold = 0.15

// Delta 一次评分产生的态度/信任增量
type Delta struct {
	Attitude float64
	Trust    float64
}

// Add 增量叠加
func (d Delta) Add(other Delta) Delta {
	return Delta{Attitude: d.Attitude + other.Attitude, Trust: d.Trust + other.Trust}
}

// Significant 任一分量幅度超过显著阈值
func (d Delta) Significant() bool {
	return abs(d.Attitude) > SignificanceThreshold || abs(d.Trust) > SignificanceThreshold
}

// Scorer 把一段文本映射为态度/信任增量
// 关键词表可以整体替换，状态更新算法不感知评分来源
type Scorer interface {
	Score(text string) Delta
}

// KeywordScorer 基于关键词命中的评分器
// 负向增量幅度大于正向：信任的损耗快于积累
type KeywordScorer struct {
	PositiveWords []string
	NegativeWords []string
	PositiveDelta Delta
	NegativeDelta Delta
}

// Score 统计命中并累加增量，大小写不敏感
func (s *KeywordScorer) Score(text string) Delta {
	if text == "" {
		return Delta{}
	}
	lowered := strings.ToLower(text)

	var total Delta
	for _, word := range s.PositiveWords {
		if strings.Contains(lowered, strings.ToLower(word)) {
			total = total.Add(s.PositiveDelta)
		}
	}
	for _, word := range s.NegativeWords {
		if strings.Contains(lowered, strings.ToLower(word)) {
			total = total.Add(s.NegativeDelta)
		}
	}
	return total
}

// DefaultInputScorer 针对用户输入文本的默认评分器
func DefaultInputScorer() *KeywordScorer {
	return &KeywordScorer{
		PositiveWords: []string{
			"谢谢", "感谢", "帮助", "信任", "朋友", "真好", "喜欢", "支持", "理解",
			"thank", "help", "trust", "friend", "appreciate", "kind",
		},
		NegativeWords: []string{
			"骗", "威胁", "滚", "闭嘴", "讨厌", "恨", "杀", "抢", "背叛", "废物",
			"liar", "threat", "shut up", "hate", "betray", "stupid",
		},
		PositiveDelta: Delta{Attitude: 0.05, Trust: 0.03},
		NegativeDelta: Delta{Attitude: -0.12, Trust: -0.08},
	}
}

// DefaultEmotionScorer 针对模型产出的情绪标签的默认评分器
func DefaultEmotionScorer() *KeywordScorer {
	return &KeywordScorer{
		PositiveWords: []string{
			"高兴", "开心", "喜悦", "感激", "好奇", "温暖", "放松",
			"happy", "joy", "grateful", "curious", "warm",
		},
		NegativeWords: []string{
			"愤怒", "恐惧", "厌恶", "警惕", "悲伤", "失望", "屈辱",
			"angry", "fear", "disgust", "wary", "sad", "disappointed",
		},
		PositiveDelta: Delta{Attitude: 0.03, Trust: 0.02},
		NegativeDelta: Delta{Attitude: -0.05, Trust: -0.03},
	}
}

// AttitudeText 态度数值到定性描述的固定分档
func AttitudeText(attitude float64) string {
	switch {
	case attitude >= 0.8:
		return "非常友好"
	case attitude >= 0.6:
		return "友好"
	case attitude >= 0.4:
		return "中立"
	case attitude >= 0.2:
		return "冷淡"
	default:
		return "敌对"
	}
}

// RelationTier 态度与信任联合的关系档位，用于运行时关系覆盖层
func RelationTier(attitude, trust float64) string {
	switch {
	case attitude >= 0.8 && trust >= 0.7:
		return "亲密信赖"
	case attitude >= 0.6 && trust >= 0.5:
		return "友好信任"
	case attitude >= 0.4:
		return "中立观望"
	case attitude >= 0.2:
		return "冷淡疏远"
	case trust < 0.2:
		return "敌对戒备"
	default:
		return "敌对"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
