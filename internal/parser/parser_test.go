// internal/parser/parser_test.go
package parser

import (
	"reflect"
	"testing"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

func TestExtract_CleanRecord(t *testing.T) {
	record, err := Extract(`{"name": "林晨", "importance": 80}`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["name"] != "林晨" {
		t.Errorf("name = %v, want 林晨", record["name"])
	}
}

func TestExtract_TrailingProse(t *testing.T) {
	record, err := Extract(`{"id":"npc_003","name":"亮哥"} trailing prose`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := map[string]interface{}{"id": "npc_003", "name": "亮哥"}
	if !reflect.DeepEqual(record, want) {
		t.Errorf("record = %v, want %v", record, want)
	}
}

func TestExtract_FencedBlock(t *testing.T) {
	raw := "好的，以下是分析结果：\n```json\n{\"mood\": \"平静\", \"trust\": 0.3}\n```\n希望对你有帮助。"
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["mood"] != "平静" {
		t.Errorf("mood = %v", record["mood"])
	}
	if record["trust"] != 0.3 {
		t.Errorf("trust = %v", record["trust"])
	}
}

func TestExtract_Comments(t *testing.T) {
	raw := `{
		// 角色的核心属性
		"name": "Chen",
		/* 块注释也要剥掉 */
		"traits": ["calm", "sharp"]
	}`
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["name"] != "Chen" {
		t.Errorf("name = %v", record["name"])
	}
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	raw := `前导说明 {"note": "包含 } 和 \" 的字符串{", "ok": true} 尾随说明`
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["ok"] != true {
		t.Errorf("ok = %v", record["ok"])
	}
	if record["note"] != `包含 } 和 " 的字符串{` {
		t.Errorf("note = %q", record["note"])
	}
}

func TestExtract_NestedRecord(t *testing.T) {
	raw := `模型回复如下
{"relationships": {"npc_001": {"address_as": "师兄", "attitude": "尊敬"}}, "importance": 65}
以上。`
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	rel, ok := record["relationships"].(map[string]interface{})
	if !ok {
		t.Fatalf("relationships 类型错误: %T", record["relationships"])
	}
	if _, ok := rel["npc_001"]; !ok {
		t.Error("缺少 npc_001 关系条目")
	}
}

func TestExtract_FullWidthPunctuation(t *testing.T) {
	raw := `{"emotion"："好奇"，"action"："抬头看了一眼"}`
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["emotion"] != "好奇" {
		t.Errorf("emotion = %v", record["emotion"])
	}
}

func TestExtract_LineAccumulation(t *testing.T) {
	raw := "分析：\n{\n\"name\": \"王五\",\n\"gender\": \"male\"\n}\n完毕"
	record, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if record["gender"] != "male" {
		t.Errorf("gender = %v", record["gender"])
	}
}

func TestExtract_NoStructure(t *testing.T) {
	cases := []string{
		"",
		"完全没有结构化内容的普通叙述",
		"only an opening { without a close",
		"}{",
	}
	for _, raw := range cases {
		_, err := Extract(raw)
		if err == nil {
			t.Errorf("Extract(%q) 应当失败", raw)
			continue
		}
		if !apperrors.IsMalformedOutputError(err) {
			t.Errorf("Extract(%q) 错误类型 = %v, 期望 MalformedOutput", raw, err)
		}
	}
}

func TestExtract_ErrorCarriesDiagnosticHeads(t *testing.T) {
	_, err := Extract("没有任何可解析的结构")
	if err == nil {
		t.Fatal("期望失败")
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("错误类型 = %T", err)
	}
	if appErr.Code != "MALFORMED_OUTPUT" {
		t.Errorf("Code = %s", appErr.Code)
	}
}

func TestExtractInto(t *testing.T) {
	type reply struct {
		Emotion string `json:"emotion"`
		Content string `json:"content"`
	}
	var r reply
	if err := ExtractInto(`回复：{"emotion":"高兴","content":"你好"}`, &r); err != nil {
		t.Fatalf("ExtractInto: %v", err)
	}
	if r.Emotion != "高兴" || r.Content != "你好" {
		t.Errorf("r = %+v", r)
	}
}

func TestHead_Truncation(t *testing.T) {
	long := make([]rune, diagnosticHeadLen+100)
	for i := range long {
		long[i] = '测'
	}
	h := head(string(long))
	if got := len([]rune(h)); got != diagnosticHeadLen+3 {
		t.Errorf("head 长度 = %d", got)
	}
}
