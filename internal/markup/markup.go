// Package markup 将条目正文转换为安全的 HTML 片段。
//
// 助手文本按 GFM Markdown 渲染, 用户文本仅转义并保留换行;
// 两者输出都经过 bluemonday 白名单过滤。渲染是纯函数, 可并发调用。
package markup

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

// Renderer 实现 transcript.MarkupRenderer。
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

var _ transcript.MarkupRenderer = (*Renderer)(nil)

// New 创建渲染器。
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &Renderer{md: md, policy: policy}
}

// Render 渲染正文。Markdown 转换失败时退回转义文本。
func (r *Renderer) Render(role transcript.Role, content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if role == transcript.RoleUser {
		return r.policy.Sanitize(plainParagraphs(content))
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		logger.Debug("markup: markdown convert failed", logger.FieldError, err)
		return r.policy.Sanitize(plainParagraphs(content))
	}
	return r.policy.Sanitize(buf.String())
}

func plainParagraphs(content string) string {
	escaped := html.EscapeString(strings.TrimRight(content, "\n"))
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}
