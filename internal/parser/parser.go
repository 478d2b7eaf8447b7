// internal/parser/parser.go
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

// 诊断片段长度（按 rune 截取，避免把多字节字符切坏）
const diagnosticHeadLen = 500

// Extract 从模型原始输出中恢复一个结构化记录
// 输入是不可信的自由文本：记录可能被注释、围栏代码块或多余叙述包裹
// 依次尝试多级恢复策略，全部失败时返回 MalformedOutputError
func Extract(raw string) (map[string]interface{}, error) {
	cleaned := Clean(raw)

	// 直接解析：最常见的情况，保持开销最小
	if record, ok := tryParse(cleaned); ok {
		return record, nil
	}

	// 括号配对提取：从第一个 { 开始按深度扫描
	if candidate, ok := braceMatch(cleaned); ok {
		if record, ok := tryParse(candidate); ok {
			return record, nil
		}
	}

	// 逐行累积提取：跨行跟踪深度，适合记录前后混有叙述的输出
	if candidate, ok := accumulateLines(cleaned); ok {
		if record, ok := tryParse(candidate); ok {
			return record, nil
		}
	}

	// 正则兜底：浅层嵌套模式匹配
	for _, candidate := range shallowBracePattern.FindAllString(cleaned, -1) {
		if record, ok := tryParse(candidate); ok {
			return record, nil
		}
	}

	return nil, apperrors.NewMalformedOutputError(head(raw), head(cleaned))
}

// ExtractInto 恢复结构化记录并解码到调用方提供的目标
func ExtractInto(raw string, v interface{}) error {
	record, err := Extract(raw)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewProcessingError("重新编码结构化记录失败", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewProcessingError("结构化记录与目标类型不匹配", err)
	}
	return nil
}

// Clean 去除围栏标记和注释，并归一化全角标点
// 单独导出以便上层在解析前做日志记录
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	text = stripFences(text)
	text = stripComments(text)
	text = normalizePunctuation(text)
	return strings.TrimSpace(text)
}

// stripFences 去掉 ```json ... ``` 一类的围栏包裹
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		// 围栏出现在文本中段时只去掉标记行本身
		if strings.Contains(trimmed, "```") {
			return fenceMarker.ReplaceAllString(trimmed, "")
		}
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// stripComments 去掉 // 行注释和 /* */ 块注释
// 此阶段假定注释不会出现在字符串字面量内；如果剥除破坏了字面量，
// 后续解析会直接失败并落入下一级策略，不影响正确性
func stripComments(text string) string {
	text = blockComment.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			// http:// 之类的协议前缀不是注释
			if idx > 0 && line[idx-1] == ':' {
				continue
			}
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

// normalizePunctuation 把模型偶发输出的全角标点替换为结构等价的 ASCII
func normalizePunctuation(text string) string {
	return punctuationReplacer.Replace(text)
}

var (
	fenceMarker         = regexp.MustCompile("```[a-zA-Z]*")
	blockComment        = regexp.MustCompile(`(?s)/\*.*?\*/`)
	shallowBracePattern = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

	punctuationReplacer = strings.NewReplacer(
		"“", `"`,
		"”", `"`,
		"‘", `'`,
		"’", `'`,
		"：", ":",
		"，", ",",
		"【", "[",
		"】", "]",
		"｛", "{",
		"｝", "}",
	)
)

// braceMatch 从第一个 { 开始扫描，深度计数只统计字符串外的结构性括号
// 字符串状态通过未转义的引号切换；被转义的字符既不切换状态也不计数
func braceMatch(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// accumulateLines 逐行累积：遇到含 { 的行开始收集，跨行延续同一套深度计数
func accumulateLines(text string) (string, bool) {
	var collected []string
	collecting := false
	depth := 0
	inString := false
	escaped := false

	for _, line := range strings.Split(text, "\n") {
		if !collecting {
			if !strings.Contains(line, "{") {
				continue
			}
			collecting = true
			// 行首的叙述性前缀从第一个 { 处截断
			if idx := strings.IndexByte(line, '{'); idx > 0 {
				line = line[idx:]
			}
		}

		collected = append(collected, line)

		for i := 0; i < len(line); i++ {
			c := line[i]
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return strings.Join(collected, "\n"), true
				}
			}
		}
		// 字符串状态不跨行延续：未闭合的引号说明这一行已经损坏
		inString = false
		escaped = false
	}
	return "", false
}

func tryParse(text string) (map[string]interface{}, bool) {
	text = strings.TrimSpace(text)
	if text == "" || text[0] != '{' {
		return nil, false
	}
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(text), &record); err != nil {
		return nil, false
	}
	return record, true
}

func head(text string) string {
	runes := []rune(text)
	if len(runes) <= diagnosticHeadLen {
		return text
	}
	return string(runes[:diagnosticHeadLen]) + "..."
}
