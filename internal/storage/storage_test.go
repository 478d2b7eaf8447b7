// internal/storage/storage_test.go
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Corphon/NovelCastMCP/internal/models"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	t.Cleanup(fs.Close)
	return fs
}

func TestFileStorage_SaveAndLoadJSON(t *testing.T) {
	fs := newTestStorage(t)

	in := map[string]string{"name": "林晨"}
	if err := fs.SaveJSONFile("d", "x.json", in); err != nil {
		t.Fatalf("SaveJSONFile: %v", err)
	}

	var out map[string]string
	if err := fs.LoadJSONFile("d", "x.json", &out); err != nil {
		t.Fatalf("LoadJSONFile: %v", err)
	}
	if out["name"] != "林晨" {
		t.Errorf("out = %v", out)
	}
}

func TestFileStorage_AtomicWriteLeavesNoTemp(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("d", "a.txt", []byte("内容")); err != nil {
		t.Fatalf("SaveTextFile: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, "d"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("残留临时文件: %s", e.Name())
		}
	}
}

func TestFileStorage_OverwriteInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	fs.SaveTextFile("d", "a.txt", []byte("v1"))
	if _, err := fs.LoadTextFile("d", "a.txt"); err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}

	fs.SaveTextFile("d", "a.txt", []byte("v2"))
	data, err := fs.LoadTextFile("d", "a.txt")
	if err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("读到过期缓存: %s", data)
	}
}

func TestProfileStore_SaveValidatesProfile(t *testing.T) {
	store := NewProfileStore(newTestStorage(t))

	bad := &models.CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 150}
	if err := store.SaveProfile(bad); err == nil {
		t.Fatal("非法档案不应保存")
	}

	good := &models.CharacterProfile{ID: "npc_001", Name: "林晨", Importance: 80}
	if err := store.SaveProfile(good); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	loaded, err := store.LoadProfile("npc_001")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if loaded.Name != "林晨" || loaded.Importance != 80 {
		t.Errorf("loaded = %+v", loaded)
	}

	ids, err := store.ListProfileIDs()
	if err != nil || len(ids) != 1 || ids[0] != "npc_001" {
		t.Errorf("ListProfileIDs = %v, %v", ids, err)
	}
}

func TestProfileStore_TurnSnapshots(t *testing.T) {
	store := NewProfileStore(newTestStorage(t))

	snap := &TurnSnapshot{
		SessionID: "s1",
		TurnID:    "t1",
		UserInput: "你好",
		Reaction:  &models.AgentReaction{CharacterID: "npc_001", Content: "嗯"},
		Mood:      "平静",
	}
	if err := store.SaveTurnSnapshot(snap); err != nil {
		t.Fatalf("SaveTurnSnapshot: %v", err)
	}

	if err := store.SaveTurnSnapshot(&TurnSnapshot{TurnID: "t2"}); err == nil {
		t.Error("缺少会话标识应报错")
	}

	if err := store.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
}
