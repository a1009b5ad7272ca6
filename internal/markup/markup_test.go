package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/multi-agent/agent-shell/internal/transcript"
)

func TestRender_AssistantMarkdown(t *testing.T) {
	r := New()
	out := r.Render(transcript.RoleAssistant, "# Title\n\nSome **bold** text\n\n```go\nfmt.Println(1)\n```")

	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, `<code class="language-go">`)
}

func TestRender_StripsScripts(t *testing.T) {
	r := New()
	out := r.Render(transcript.RoleAssistant, "hello <script>alert(1)</script> <img src=x onerror=alert(1)>")

	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "onerror")
	assert.Contains(t, out, "hello")
}

func TestRender_GFMTable(t *testing.T) {
	r := New()
	out := r.Render(transcript.RoleAssistant, "| a | b |\n|---|---|\n| 1 | 2 |")
	assert.Contains(t, out, "<table>")
}

func TestRender_UserTextIsNotMarkdown(t *testing.T) {
	r := New()
	out := r.Render(transcript.RoleUser, "**not bold**\nline two <b>")

	assert.NotContains(t, out, "<strong>")
	assert.Contains(t, out, "**not bold**<br>line two &lt;b&gt;")
}

func TestRender_LinksGetNofollow(t *testing.T) {
	r := New()
	out := r.Render(transcript.RoleAssistant, "see [docs](https://example.com/docs)")
	assert.Contains(t, out, `rel="nofollow`)
	assert.True(t, strings.Contains(out, `target="_blank"`), out)
}

func TestRender_Blank(t *testing.T) {
	assert.Empty(t, New().Render(transcript.RoleAssistant, "   \n"))
}

func TestRender_StreamingPartialFence(t *testing.T) {
	// 流式输出中途的未闭合代码块也必须可渲染
	out := New().Render(transcript.RoleAssistant, "before\n```python\nprint(")
	assert.Contains(t, out, "print(")
}
