package util

import (
	"strings"
	"unicode/utf8"
)

// FirstNonEmpty 返回第一个非空 (trim 后) 的字符串。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// TruncateRunes 按 rune 截断, 返回截断后的字符串与被丢弃的 rune 数。
func TruncateRunes(s string, limit int) (string, int) {
	if limit <= 0 {
		return s, 0
	}
	total := utf8.RuneCountInString(s)
	if total <= limit {
		return s, 0
	}
	i, n := 0, 0
	for i = range s {
		if n == limit {
			break
		}
		n++
	}
	return s[:i], total - limit
}
