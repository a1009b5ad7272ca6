// Package termview 将转录投影渲染为终端文本 (transcriptctl replay 使用)。
//
// 正文经 glamour 渲染 Markdown, 样式用 lipgloss, 宽度计算用 go-runewidth 以正确处理 CJK。
package termview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

const (
	minWidth          = 20
	maxResultLines    = 8
	maxReasoningLines = 6
)

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	reasoningStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	stepStyle      = lipgloss.NewStyle().PaddingLeft(2)
	resultStyle    = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("8"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Options 渲染选项。
type Options struct {
	Width int
	// Style 为 glamour 标准样式名 ("dark"/"light"/"notty"/"ascii"), 空则自动检测终端。
	Style string
}

type cached struct {
	revision uint64
	dimmed   bool
	out      string
}

// Renderer 渲染投影。复用已收尾条目的渲染结果, 非并发安全。
type Renderer struct {
	width int
	md    *glamour.TermRenderer
	cache map[string]cached
}

// New 创建渲染器。glamour 初始化失败时退回纯文本正文。
func New(opts Options) *Renderer {
	width := max(minWidth, opts.Width)
	styleOpt := glamour.WithAutoStyle()
	if opts.Style != "" {
		styleOpt = glamour.WithStandardStyle(opts.Style)
	}
	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width-2))
	if err != nil {
		logger.Warn("termview: glamour unavailable, using plain text", logger.FieldError, err)
		md = nil
	}
	return &Renderer{width: width, md: md, cache: make(map[string]cached)}
}

// Render 渲染整个投影。
func (r *Renderer) Render(view transcript.View) string {
	var b strings.Builder
	live := make(map[string]struct{}, len(view.Entries))
	for _, e := range view.Entries {
		live[e.ID] = struct{}{}
		b.WriteString(r.renderEntry(e))
		b.WriteString("\n")
	}
	for id := range r.cache {
		if _, ok := live[id]; !ok {
			delete(r.cache, id)
		}
	}
	if view.Scroll == transcript.ScrollDetached {
		b.WriteString(noticeStyle.Render("↓ new output below"))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) renderEntry(e transcript.EntryView) string {
	if c, ok := r.cache[e.ID]; ok && c.revision == e.Revision && c.dimmed == e.Dimmed && !e.Streaming {
		return c.out
	}

	var parts []string
	if e.Role == transcript.RoleUser {
		parts = append(parts, userLabel.Render("You"))
	} else {
		label := "Assistant"
		if e.Streaming {
			label += " ●"
		}
		parts = append(parts, assistantLabel.Render(label))
	}
	for _, rv := range e.Reasoning {
		parts = append(parts, r.renderReasoning(rv))
	}
	for _, step := range e.Activity {
		parts = append(parts, r.renderStep(step))
	}
	if body := r.renderBody(e); body != "" {
		parts = append(parts, body)
	}
	if e.Artifact != nil {
		parts = append(parts, stepStyle.Render(fmt.Sprintf("♪ %s: %s", e.Artifact.Kind, r.fit(e.Artifact.URL, 4))))
	}

	out := strings.Join(parts, "\n")
	if e.Dimmed {
		out = dimStyle.Render(out)
	}
	r.cache[e.ID] = cached{revision: e.Revision, dimmed: e.Dimmed, out: out}
	return out
}

func (r *Renderer) renderBody(e transcript.EntryView) string {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return ""
	}
	if e.Role == transcript.RoleAssistant && r.md != nil {
		if rendered, err := r.md.Render(text); err == nil {
			return strings.TrimRight(rendered, "\n")
		}
	}
	return lipgloss.NewStyle().Width(r.width).Render(text)
}

func (r *Renderer) renderReasoning(rv transcript.ReasoningView) string {
	if rv.Collapsed {
		return reasoningStyle.Render("▸ " + rv.Label)
	}
	lines := tailLines(rv.Text, maxReasoningLines)
	for i, line := range lines {
		lines[i] = "  " + r.fit(line, 2)
	}
	return reasoningStyle.Render(strings.Join(append([]string{"▾ " + rv.Label}, lines...), "\n"))
}

func (r *Renderer) renderStep(step transcript.StepView) string {
	line := stepIcon(step.Status) + " " + step.Label
	if step.Detail != "" {
		line += "  " + step.Detail
	}
	out := stepStyle.Render(r.fit(line, 2))
	if step.Result == "" {
		return out
	}
	lines := headLines(step.Result, maxResultLines)
	for i, l := range lines {
		lines[i] = r.fit(l, 4)
	}
	return out + "\n" + resultStyle.Render(strings.Join(lines, "\n"))
}

// fit 按显示宽度截断单行, indent 为左侧已占用的列数。
func (r *Renderer) fit(s string, indent int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, r.width-indent, "…")
}

func stepIcon(status transcript.StepStatus) string {
	switch status {
	case transcript.StepDone:
		return "✓"
	case transcript.StepError:
		return "✗"
	case transcript.StepPendingApproval:
		return "?"
	case transcript.StepInterrupted:
		return "■"
	default:
		return "…"
	}
}

func headLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], fmt.Sprintf("(+%d lines)", len(lines)-n))
	}
	return lines
}

func tailLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
