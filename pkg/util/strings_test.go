package util

import "testing"

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  string
	}{
		{"all empty", []string{"", "  ", "\t"}, ""},
		{"first non-empty", []string{"hello", "world"}, "hello"},
		{"skip blanks", []string{"", "  ", "found"}, "found"},
		{"no args", nil, ""},
		{"trims whitespace", []string{"  trimmed  "}, "trimmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirstNonEmpty(tt.input...)
			if got != tt.want {
				t.Errorf("FirstNonEmpty(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		limit   int
		want    string
		dropped int
	}{
		{"short", "abc", 5, "abc", 0},
		{"exact", "abcde", 5, "abcde", 0},
		{"ascii cut", "abcdefg", 3, "abc", 4},
		{"multibyte cut", "日志输出完成", 2, "日志", 4},
		{"zero limit keeps all", "abc", 0, "abc", 0},
		{"empty", "", 3, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := TruncateRunes(tt.in, tt.limit)
			if got != tt.want || dropped != tt.dropped {
				t.Errorf("TruncateRunes(%q, %d) = (%q, %d), want (%q, %d)",
					tt.in, tt.limit, got, dropped, tt.want, tt.dropped)
			}
		})
	}
}
