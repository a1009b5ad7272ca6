package transcript

import (
	"encoding/json"
	"fmt"
	"html"

	"github.com/multi-agent/agent-shell/pkg/util"
)

// ResultUnavailable 替代无法序列化的工具结果。
const ResultUnavailable = "[result unavailable]"

// MarkupRenderer 把条目正文转换为展示标记。必须是纯函数。
type MarkupRenderer interface {
	Render(role Role, content string) string
}

// MarkupFunc 适配普通函数为 MarkupRenderer。
type MarkupFunc func(role Role, content string) string

func (f MarkupFunc) Render(role Role, content string) string { return f(role, content) }

// EscapeMarkup 仅做 HTML 转义, 作为未注入渲染器时的默认实现。
var EscapeMarkup = MarkupFunc(func(_ Role, content string) string {
	return html.EscapeString(content)
})

// View 是一次渲染的完整投影。
type View struct {
	SessionID   string      `json:"sessionId"`
	Seq         uint64      `json:"seq"`
	Entries     []EntryView `json:"entries"`
	ScrollToEnd bool        `json:"scrollToEnd"`
	Scroll      ScrollState `json:"scroll"`
}

// EntryView 是单个条目的投影。
type EntryView struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Status    Status          `json:"status"`
	Text      string          `json:"text"`
	Markup    string          `json:"markup"`
	Streaming bool            `json:"streaming,omitempty"`
	Dimmed    bool            `json:"dimmed,omitempty"`
	Reasoning []ReasoningView `json:"reasoning,omitempty"`
	Activity  []StepView      `json:"activity,omitempty"`
	Artifact  *Artifact       `json:"artifact,omitempty"`
	Revision  uint64          `json:"revision"`
}

func (v EntryView) clone() EntryView {
	if v.Reasoning != nil {
		v.Reasoning = append([]ReasoningView(nil), v.Reasoning...)
	}
	if v.Activity != nil {
		v.Activity = append([]StepView(nil), v.Activity...)
	}
	if v.Artifact != nil {
		a := *v.Artifact
		v.Artifact = &a
	}
	return v
}

// ReasoningView 推理面板投影。关闭后默认折叠, 只显示字符数注释。
type ReasoningView struct {
	Collapsed bool   `json:"collapsed"`
	Label     string `json:"label"`
	Text      string `json:"text"`
	CharCount int    `json:"charCount"`
}

// StepView 工具步骤投影。非终态步骤不展示结果。
type StepView struct {
	Label     string     `json:"label"`
	Detail    string     `json:"detail,omitempty"`
	Status    StepStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

type cachedView struct {
	revision uint64
	view     EntryView
}

// Projector 将条目快照映射为 EntryView。
//
// 按 (ID, Revision) 缓存投影, 历史条目只渲染一次; 不修改任何输入。
// 不做并发保护, 由 Session 串行调用。
type Projector struct {
	markup MarkupRenderer
	limit  int
	cache  map[string]cachedView
}

// NewProjector 创建投影器。markup 为 nil 时使用 EscapeMarkup。
func NewProjector(markup MarkupRenderer, resultLimit int) *Projector {
	if markup == nil {
		markup = EscapeMarkup
	}
	if resultLimit <= 0 {
		resultLimit = DefaultOptions().ResultPreviewLimit
	}
	return &Projector{markup: markup, limit: resultLimit, cache: map[string]cachedView{}}
}

// Project 返回条目投影, 顺序与输入一致。
func (p *Projector) Project(entries []Entry) []EntryView {
	out := make([]EntryView, len(entries))
	for i, e := range entries {
		if c, ok := p.cache[e.ID]; ok && c.revision == e.Revision {
			out[i] = c.view.clone()
			continue
		}
		v := p.projectEntry(e)
		p.cache[e.ID] = cachedView{revision: e.Revision, view: v}
		out[i] = v.clone()
	}
	if len(p.cache) > len(entries)+32 {
		p.prune(entries)
	}
	return out
}

// Reset 清空缓存 (条目集合被整体替换后调用)。
func (p *Projector) Reset() { p.cache = map[string]cachedView{} }

func (p *Projector) prune(entries []Entry) {
	live := make(map[string]cachedView, len(entries))
	for _, e := range entries {
		if c, ok := p.cache[e.ID]; ok {
			live[e.ID] = c
		}
	}
	p.cache = live
}

func (p *Projector) projectEntry(e Entry) EntryView {
	finalized := e.Status == StatusFinalized
	v := EntryView{
		ID:        e.ID,
		Role:      e.Role,
		Status:    e.Status,
		Text:      e.Content,
		Markup:    p.renderMarkup(e.Role, e.Content),
		Streaming: !finalized,
		Revision:  e.Revision,
	}
	if e.Artifact != nil {
		a := *e.Artifact
		v.Artifact = &a
	}
	// 已收尾条目的子面板整体置灰。
	v.Dimmed = finalized && (e.HasReasoning() || e.HasActivity())
	for _, tr := range e.Reasoning {
		v.Reasoning = append(v.Reasoning, projectReasoning(tr))
	}
	for _, st := range e.Activity {
		v.Activity = append(v.Activity, p.projectStep(st))
	}
	return v
}

func (p *Projector) renderMarkup(role Role, content string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = html.EscapeString(content)
		}
	}()
	return p.markup.Render(role, content)
}

func projectReasoning(tr ReasoningTrace) ReasoningView {
	closed := tr.State == ReasoningClosed
	label := "Thinking…"
	if closed {
		label = fmt.Sprintf("Thought · %d chars", tr.CharCount)
	}
	return ReasoningView{
		Collapsed: closed,
		Label:     label,
		Text:      tr.Text,
		CharCount: tr.CharCount,
	}
}

func (p *Projector) projectStep(st ActivityStep) StepView {
	v := StepView{Label: st.Label, Detail: st.Detail, Status: st.Status}
	if !st.Status.Terminal() || !st.HasResult {
		return v
	}
	text := FormatResult(st.Result)
	if cut, dropped := util.TruncateRunes(text, p.limit); dropped > 0 {
		text = fmt.Sprintf("%s… [truncated %d chars]", cut, dropped)
		v.Truncated = true
	}
	v.Result = text
	return v
}

// FormatResult 将结果负载转为文本: 字符串原样输出, 其余 JSON 缩进;
// 无法序列化时返回 ResultUnavailable, 从不 panic。
func FormatResult(result any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = ResultUnavailable
		}
	}()
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return ResultUnavailable
		}
		return FormatResult(decoded)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ResultUnavailable
	}
	return string(raw)
}
