// internal/prompt/prompt_test.go
package prompt

import (
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

func TestRender(t *testing.T) {
	out, err := Render("角色：{name}\n场景：{scene_context}", map[string]string{
		"name":          "林晨",
		"scene_context": "深夜的码头",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "角色：林晨\n场景：深夜的码头" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_MissingPlaceholdersRejected(t *testing.T) {
	_, err := Render("{name} 在 {location} 对 {target} 说话", map[string]string{
		"name": "林晨",
	})
	if err == nil {
		t.Fatal("缺失占位符应报错")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("错误类型 = %v", err)
	}
	// 缺失的占位符全部列出
	msg := err.Error()
	for _, name := range []string{"location", "target"} {
		if !strings.Contains(msg, name) {
			t.Errorf("错误信息缺少 %s: %s", name, msg)
		}
	}
}

func TestRender_ExtraValuesIgnored(t *testing.T) {
	out, err := Render("你好 {name}", map[string]string{
		"name":   "林晨",
		"unused": "x",
	})
	if err != nil || out != "你好 林晨" {
		t.Errorf("out = %q, err = %v", out, err)
	}
}

func TestRender_JSONBracesUntouched(t *testing.T) {
	// 模板中嵌入的 JSON 示例不构成合法占位符
	template := `请按以下格式回复: {"emotion": "...", "content": "{content}"}`
	out, err := Render(template, map[string]string{"content": "你好"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `"emotion": "..."`) {
		t.Errorf("JSON 结构被破坏: %q", out)
	}
}

func TestRender_EmptyValueAllowed(t *testing.T) {
	out, err := Render("提示：{director_hint}", map[string]string{"director_hint": ""})
	if err != nil || out != "提示：" {
		t.Errorf("out = %q, err = %v", out, err)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{name} {scene} {name} {mood_history}")
	want := []string{"name", "scene", "mood_history"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders = %v, want %v", got, want)
	}
}
