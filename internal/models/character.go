// internal/models/character.go
package models

import (
	"fmt"
	"time"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

// Relationship 角色对另一个角色的关系条目
type Relationship struct {
	AddressAs string `json:"address_as"` // 称呼方式
	Attitude  string `json:"attitude"`   // 态度标签
}

// CharacterProfile 角色档案
// 世界构建阶段创建一次，模拟阶段只读；ID 创建后不可变
type CharacterProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`

	Appearance  string `json:"appearance,omitempty"`
	Personality string `json:"personality,omitempty"`
	Background  string `json:"background,omitempty"`

	Traits        []string                `json:"traits,omitempty"`
	BehaviorRules []string                `json:"behavior_rules,omitempty"`
	Possessions   []string                `json:"possessions,omitempty"`
	VoiceSamples  []string                `json:"voice_samples,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`

	// 重要度评分，0-100
	Importance int `json:"importance"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate 校验档案不变量，失败时返回 ValidationError
func (p *CharacterProfile) Validate() error {
	if p.ID == "" {
		return apperrors.NewValidationError("角色ID不能为空", nil)
	}
	if p.Name == "" {
		return apperrors.NewValidationError("角色名称不能为空", nil)
	}
	if p.Importance < 0 || p.Importance > 100 {
		return apperrors.NewValidationError(
			fmt.Sprintf("重要度 %d 超出范围 [0,100]", p.Importance), nil)
	}
	return nil
}

// RelationshipTo 返回对指定角色的关系，runtime 覆盖层优先于档案自带条目
// 读取时合并，从不修改档案本身
func (p *CharacterProfile) RelationshipTo(targetID string, runtime map[string]Relationship) (Relationship, bool) {
	if rel, ok := runtime[targetID]; ok {
		return rel, true
	}
	rel, ok := p.Relationships[targetID]
	return rel, ok
}
