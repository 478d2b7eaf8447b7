// internal/storage/profile_store.go
package storage

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
	"github.com/Corphon/NovelCastMCP/internal/models"
)

// ProfileStore 角色档案与回合快照的持久化入口
// 上层只关心写入成功与否，目录结构在这里统一约定
type ProfileStore struct {
	fs *FileStorage
}

// NewProfileStore 创建档案存储
func NewProfileStore(fs *FileStorage) *ProfileStore {
	return &ProfileStore{fs: fs}
}

// SaveProfile 保存角色档案，保存前先校验不变量
func (s *ProfileStore) SaveProfile(profile *models.CharacterProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	return s.fs.SaveJSONFile("profiles", profile.ID+".json", profile)
}

// LoadProfile 按ID读取角色档案
func (s *ProfileStore) LoadProfile(id string) (*models.CharacterProfile, error) {
	if !s.fs.FileExists("profiles", id+".json") {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("角色档案 %s 不存在", id), nil)
	}

	var profile models.CharacterProfile
	if err := s.fs.LoadJSONFile("profiles", id+".json", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListProfileIDs 列出已保存的档案ID
func (s *ProfileStore) ListProfileIDs() ([]string, error) {
	files, err := s.fs.ListFiles("profiles")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, name := range files {
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// TurnSnapshot 一个回合的可持久化快照
type TurnSnapshot struct {
	SessionID string                `json:"session_id"`
	TurnID    string                `json:"turn_id"`
	UserInput string                `json:"user_input"`
	Reaction  *models.AgentReaction `json:"reaction"`
	Mood      string                `json:"mood"`
	Attitude  float64               `json:"attitude"`
	Trust     float64               `json:"trust"`
	Timestamp time.Time             `json:"timestamp"`
}

// SaveTurnSnapshot 保存回合快照，按会话分目录
func (s *ProfileStore) SaveTurnSnapshot(snapshot *TurnSnapshot) error {
	if snapshot.SessionID == "" || snapshot.TurnID == "" {
		return fmt.Errorf("快照缺少会话或回合标识")
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	dir := "sessions/" + snapshot.SessionID
	return s.fs.SaveJSONFile(dir, snapshot.TurnID+".json", snapshot)
}

// DeleteSession 清除会话的全部快照
func (s *ProfileStore) DeleteSession(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("会话标识不能为空")
	}
	return s.fs.DeleteDir("sessions/" + sessionID)
}
