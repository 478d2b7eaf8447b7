// internal/prompt/prompt.go
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/Corphon/NovelCastMCP/internal/errors"
)

// 占位符形如 {scene_context}，只允许小写字母、数字和下划线
var placeholderPattern = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Render 用 values 替换模板中的占位符
// 模板中出现但 values 未提供的占位符视为错误，全部列出后拒绝；
// values 中多余的键被忽略
func Render(template string, values map[string]string) (string, error) {
	var missing []string
	seen := make(map[string]bool)

	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := values[name]; ok {
			return value
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", apperrors.NewValidationError(
			fmt.Sprintf("模板包含未提供的占位符: %s", strings.Join(missing, ", ")), nil)
	}
	return result, nil
}

// Placeholders 列出模板中出现的全部占位符名，去重后按出现顺序返回
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}
