// internal/models/profile_draft.go
package models

// RelationshipClaim 单个窗口中观察到的一条关系
type RelationshipClaim struct {
	TargetID  string `json:"target_id"`
	AddressAs string `json:"address_as"`
	Attitude  string `json:"attitude"`
}

// ProfileDraft 分块分析过程中的部分档案
// 每个文档窗口产出一份，逐份合并进累积结果
type ProfileDraft struct {
	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`

	Appearance  string `json:"appearance,omitempty"`
	Personality string `json:"personality,omitempty"`
	Background  string `json:"background,omitempty"`

	Traits        []string            `json:"traits,omitempty"`
	BehaviorRules []string            `json:"behavior_rules,omitempty"`
	Possessions   []string            `json:"possessions,omitempty"`
	VoiceSamples  []string            `json:"voice_samples,omitempty"`
	Relationships []RelationshipClaim `json:"relationships,omitempty"`

	Importance int `json:"importance,omitempty"`
}

// Merge 把 partial 合并进当前草稿
// 标量字段先写入者生效；自由文本按处理顺序换行拼接；
// 集合字段去重追加，关系按 (目标, 态度标签) 去重
func (d *ProfileDraft) Merge(partial *ProfileDraft) {
	if partial == nil {
		return
	}

	if d.Age == "" && partial.Age != "" {
		d.Age = partial.Age
	}
	if d.Gender == "" && partial.Gender != "" {
		d.Gender = partial.Gender
	}
	if d.Importance == 0 && partial.Importance != 0 {
		d.Importance = partial.Importance
	}

	d.Appearance = concatText(d.Appearance, partial.Appearance)
	d.Personality = concatText(d.Personality, partial.Personality)
	d.Background = concatText(d.Background, partial.Background)

	d.Traits = appendUnique(d.Traits, partial.Traits)
	d.BehaviorRules = appendUnique(d.BehaviorRules, partial.BehaviorRules)
	d.Possessions = appendUnique(d.Possessions, partial.Possessions)
	d.VoiceSamples = appendUnique(d.VoiceSamples, partial.VoiceSamples)

	for _, claim := range partial.Relationships {
		if !d.hasClaim(claim) {
			d.Relationships = append(d.Relationships, claim)
		}
	}
}

// ToProfile 把合并完成的草稿转为正式档案
func (d *ProfileDraft) ToProfile(id, name string) *CharacterProfile {
	profile := &CharacterProfile{
		ID:            id,
		Name:          name,
		Age:           d.Age,
		Gender:        d.Gender,
		Appearance:    d.Appearance,
		Personality:   d.Personality,
		Background:    d.Background,
		Traits:        d.Traits,
		BehaviorRules: d.BehaviorRules,
		Possessions:   d.Possessions,
		VoiceSamples:  d.VoiceSamples,
		Importance:    d.Importance,
	}
	if len(d.Relationships) > 0 {
		profile.Relationships = make(map[string]Relationship, len(d.Relationships))
		for _, claim := range d.Relationships {
			// 同一目标保留第一条观察
			if _, ok := profile.Relationships[claim.TargetID]; ok {
				continue
			}
			profile.Relationships[claim.TargetID] = Relationship{
				AddressAs: claim.AddressAs,
				Attitude:  claim.Attitude,
			}
		}
	}
	return profile
}

func (d *ProfileDraft) hasClaim(claim RelationshipClaim) bool {
	for _, existing := range d.Relationships {
		if existing.TargetID == claim.TargetID && existing.Attitude == claim.Attitude {
			return true
		}
	}
	return false
}

func concatText(existing, incoming string) string {
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	return existing + "\n" + incoming
}

func appendUnique(existing, incoming []string) []string {
	for _, item := range incoming {
		if item == "" {
			continue
		}
		found := false
		for _, have := range existing {
			if have == item {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, item)
		}
	}
	return existing
}
