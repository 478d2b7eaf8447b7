// internal/models/scene.go
package models

import "strings"

// SceneContext 一次交互发生的场景信息
type SceneContext struct {
	Location    string `json:"location,omitempty"`
	TimeOfDay   string `json:"time_of_day,omitempty"`
	AmbientMood string `json:"ambient_mood,omitempty"`
}

// Describe 场景的单行文字描述，空场景返回空串
func (s SceneContext) Describe() string {
	var parts []string
	if s.Location != "" {
		parts = append(parts, "地点: "+s.Location)
	}
	if s.TimeOfDay != "" {
		parts = append(parts, "时间: "+s.TimeOfDay)
	}
	if s.AmbientMood != "" {
		parts = append(parts, "氛围: "+s.AmbientMood)
	}
	return strings.Join(parts, "; ")
}

// IsEmpty 场景是否完全未指定
func (s SceneContext) IsEmpty() bool {
	return s.Location == "" && s.TimeOfDay == "" && s.AmbientMood == ""
}
