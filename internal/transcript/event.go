// Package transcript 实现流式转录状态机。
//
// 后端事件按到达顺序逐条进入 Decoder, 解码后交给 Store 应用;
// 每次成功应用后 Projector 重新派生可视结构, ScrollPolicy 决定是否滚动到底部。
// Session 将上述组件组合为宿主可调用的单一入口。
package transcript

// Kind 是解码后的事件类型。
type Kind string

const (
	KindTextDelta      Kind = "text-delta"
	KindTextFinal      Kind = "text-final"
	KindReasoningStart Kind = "reasoning-start"
	KindReasoningDelta Kind = "reasoning-delta"
	KindReasoningEnd   Kind = "reasoning-end"
	KindToolStart      Kind = "tool-start"
	KindToolResult     Kind = "tool-result"
	KindToolPermission Kind = "tool-permission"
	KindReplace        Kind = "replace-directive"
	KindDone           Kind = "done"
	KindArtifact       Kind = "artifact"
	KindUserMessage    Kind = "user-message"
	KindInterrupted    Kind = "interrupted"
)

// Event 是 Decoder 输出的强类型事件。不同 Kind 只使用其中部分字段。
type Event struct {
	Kind Kind `json:"kind"`

	// Text 用于 text-*, reasoning-delta, replace-directive, user-message。
	Text string `json:"text,omitempty"`
	// HasText 区分 text-final 是否携带文本 (未携带时沿用已累积内容)。
	HasText bool `json:"hasText,omitempty"`

	Tool    string `json:"tool,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Result  any    `json:"result,omitempty"`
	IsError bool   `json:"isError,omitempty"`

	// Final 仅 replace-directive 使用。
	Final bool `json:"final,omitempty"`
	// Finalize 仅 done 使用, 解码默认 true。
	Finalize bool `json:"finalize,omitempty"`

	URL          string `json:"url,omitempty"`
	ArtifactKind string `json:"artifactKind,omitempty"`
}

// contentBearing 报告该事件在无活动条目时是否允许创建新条目。
func (k Kind) contentBearing() bool {
	switch k {
	case KindTextDelta, KindTextFinal, KindReasoningStart, KindReasoningDelta,
		KindToolStart, KindToolPermission, KindReplace:
		return true
	}
	return false
}

// isReasoning 报告事件是否属于推理面板自身; 其余事件会强制关闭打开的面板。
func (k Kind) isReasoning() bool {
	return k == KindReasoningStart || k == KindReasoningDelta || k == KindReasoningEnd
}

// Known 报告 k 是否为已定义的事件类型。
func (k Kind) Known() bool {
	_, ok := storeHandlers[k]
	return ok
}

// TextDelta / TextFinal / ... 是构造事件的便捷函数, 供宿主与测试直接注入。
func TextDelta(text string) Event { return Event{Kind: KindTextDelta, Text: text} }

func TextFinal(text string) Event {
	return Event{Kind: KindTextFinal, Text: text, HasText: text != ""}
}

func ReasoningStart() Event            { return Event{Kind: KindReasoningStart} }
func ReasoningDelta(text string) Event { return Event{Kind: KindReasoningDelta, Text: text} }
func ReasoningEnd() Event              { return Event{Kind: KindReasoningEnd} }

func ToolStart(tool, detail string) Event {
	return Event{Kind: KindToolStart, Tool: tool, Detail: detail}
}

func ToolResult(tool string, result any, isError bool) Event {
	return Event{Kind: KindToolResult, Tool: tool, Result: result, IsError: isError}
}

func ToolPermission(tool string) Event { return Event{Kind: KindToolPermission, Tool: tool} }

func Replace(text string, final bool) Event {
	return Event{Kind: KindReplace, Text: text, Final: final}
}

func Done(finalize bool) Event { return Event{Kind: KindDone, Finalize: finalize} }

func ArtifactEvent(url, kind string) Event {
	return Event{Kind: KindArtifact, URL: url, ArtifactKind: kind}
}

func UserMessage(text string) Event { return Event{Kind: KindUserMessage, Text: text} }

func Interrupted() Event { return Event{Kind: KindInterrupted} }
