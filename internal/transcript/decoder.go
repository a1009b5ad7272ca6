package transcript

import (
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

// 拒绝原因, 同时作为指标标签。
const (
	RejectMalformed = "malformed"
	RejectUnknown   = "unknown"
	RejectNoise     = "noise"
)

// Decoder 将后端原始消息分类为 Event。
//
// 纯函数语义: 除日志与计数外无副作用, 可并发调用。
type Decoder struct {
	minAlnum int
	obs      Observer
}

// NewDecoder 创建解码器。obs 可为 nil。
func NewDecoder(opts Options, obs Observer) *Decoder {
	opts = opts.withDefaults()
	if obs == nil {
		obs = NopObserver{}
	}
	return &Decoder{
		minAlnum: opts.NoiseMinAlnum,
		obs:      obs,
	}
}

// log 每次取当前默认日志器, 包级 defaultDecoder 早于 logger.Init 创建。
func (d *Decoder) log() *slog.Logger {
	return logger.With(logger.FieldComponent, "transcript.decoder")
}

var defaultDecoder = NewDecoder(DefaultOptions(), nil)

// Decode 使用默认选项解码一条消息。ok=false 表示该消息不参与转录。
func Decode(raw []byte) (Event, bool) { return defaultDecoder.Decode(raw) }

// Decode 解码一条 JSON 消息。判别字段为 "type", 缺失时回退 "event"。
func (d *Decoder) Decode(raw []byte) (Event, bool) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		d.reject(RejectMalformed, "", "payload is not a JSON object", logger.FieldBytes, len(raw))
		return Event{}, false
	}
	name := extractFirstString(payload, "type", "event")
	if strings.TrimSpace(name) == "" {
		d.reject(RejectMalformed, "", "missing discriminator")
		return Event{}, false
	}
	return d.DecodeMap(name, payload)
}

// DecodeMap 解码已拆分的 (类型名, 负载)。供 WebSocket/Wails 桥接直接调用。
func (d *Decoder) DecodeMap(name string, payload map[string]any) (Event, bool) {
	if payload == nil {
		payload = map[string]any{}
	}
	kind, ok := classifyKind(name)
	if !ok {
		d.obs.EventRejected(RejectUnknown)
		d.log().Debug("transcript: ignoring unknown event", logger.FieldEventType, name)
		return Event{}, false
	}

	ev, missing := resolveEvent(kind, name, payload)
	if missing != "" {
		d.reject(RejectMalformed, kind, "missing required field", "field", missing)
		return Event{}, false
	}
	if !d.passesNoiseFilter(&ev) {
		d.obs.EventRejected(RejectNoise)
		d.log().Debug("transcript: noise filtered", logger.FieldEventType, string(kind), logger.FieldLen, len(ev.Text))
		return Event{}, false
	}
	d.obs.EventDecoded(kind)
	return ev, true
}

func (d *Decoder) reject(reason string, kind Kind, msg string, args ...any) {
	d.obs.EventRejected(reason)
	args = append(args, logger.FieldReason, reason)
	if kind != "" {
		args = append(args, logger.FieldEventType, string(kind))
	}
	d.log().Warn("transcript: "+msg, args...)
}

// passesNoiseFilter 过滤语音通道等带来的杂散标点。
//
// 增量事件的阈值下限为 1, 单字符 token 仍能流式拼接;
// text-final 的噪声文本被丢弃但事件保留, 以免活动条目无法收尾。
func (d *Decoder) passesNoiseFilter(ev *Event) bool {
	if d.minAlnum < 0 {
		return true
	}
	switch ev.Kind {
	case KindTextDelta, KindReasoningDelta:
		return alnumCount(ev.Text) >= min(d.minAlnum, 1)
	case KindReplace, KindUserMessage:
		return alnumCount(ev.Text) >= d.minAlnum
	case KindTextFinal:
		if ev.HasText && alnumCount(ev.Text) < d.minAlnum {
			ev.Text, ev.HasText = "", false
		}
	}
	return true
}

func alnumCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// classifyKind 将后端事件名 (含 codex 风格别名) 映射到规范类型。
func classifyKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	// ── Assistant text ──
	case "text-delta", "agent_message_delta", "agent_message_content_delta", "assistant_delta":
		return KindTextDelta, true
	case "text-final", "agent_message", "agent_message_completed", "assistant_done":
		return KindTextFinal, true

	// ── Reasoning ──
	case "reasoning-start", "reasoning_start", "agent_reasoning_start":
		return KindReasoningStart, true
	case "reasoning-delta", "reasoning_delta", "agent_reasoning", "agent_reasoning_delta",
		"agent_reasoning_raw_delta":
		return KindReasoningDelta, true
	case "reasoning-end", "reasoning_end", "agent_reasoning_end", "agent_reasoning_section_break":
		return KindReasoningEnd, true

	// ── Tools ──
	case "tool-start", "tool_call", "mcp_tool_call_begin", "exec_command_begin":
		return KindToolStart, true
	case "tool-result", "tool_result", "mcp_tool_call_end", "exec_command_end":
		return KindToolResult, true
	case "tool-permission", "approval_request", "exec_approval_request", "file_change_approval_request":
		return KindToolPermission, true

	// ── Directives / lifecycle ──
	case "replace-directive", "replace", "assistant_replace":
		return KindReplace, true
	case "done", "turn_complete", "idle":
		return KindDone, true
	case "artifact", "tts_audio", "audio":
		return KindArtifact, true
	case "user-message", "user_message":
		return KindUserMessage, true
	case "interrupted", "turn_aborted", "interrupt_ack":
		return KindInterrupted, true
	}
	return "", false
}

// resolveEvent 按类型提取字段。missing 非空表示缺少必填字段。
func resolveEvent(kind Kind, name string, payload map[string]any) (ev Event, missing string) {
	ev.Kind = kind
	switch kind {
	case KindTextDelta, KindReasoningDelta, KindReplace, KindUserMessage:
		text, ok := extractText(payload)
		if !ok {
			return ev, "text"
		}
		ev.Text = text
		if kind == KindReplace {
			ev.Final = extractBool(payload, false, "final", "isFinal")
		}

	case KindTextFinal:
		if text, ok := extractText(payload); ok && strings.TrimSpace(text) != "" {
			ev.Text, ev.HasText = text, true
		}

	case KindToolStart, KindToolPermission:
		ev.Tool = extractToolName(payload)
		ev.Detail = extractDetail(payload)
		if ev.Tool == "" && ev.Detail != "" {
			ev.Tool = "shell"
		}
		if ev.Tool == "" {
			return ev, "tool"
		}

	case KindToolResult:
		ev.Tool = extractToolName(payload)
		ev.Detail = extractFirstString(payload, "detail")
		ev.Result = extractResult(payload)
		ev.IsError = extractIsError(payload)
		// codex 的 *_end 帧常不带工具名或输出, 只对规范名强制必填字段
		if isCanonicalToolResult(name) {
			if ev.Tool == "" {
				return ev, "tool"
			}
			if ev.Result == nil {
				return ev, "result"
			}
		}

	case KindDone:
		ev.Finalize = extractBool(payload, true, "finalize")

	case KindArtifact:
		ev.URL = util.FirstNonEmpty(extractFirstString(payload, "url", "src", "path"))
		if ev.URL == "" {
			return ev, "url"
		}
		ev.ArtifactKind = util.FirstNonEmpty(extractFirstString(payload, "kind", "mime"), artifactKindFor(name))
	}
	return ev, ""
}

func isCanonicalToolResult(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tool-result", "tool_result":
		return true
	}
	return false
}

func artifactKindFor(name string) string {
	if strings.Contains(name, "audio") {
		return "audio"
	}
	return "file"
}

func extractFirstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if text, ok := payload[key].(string); ok {
			return text
		}
	}
	return ""
}

// extractText 返回文本字段; 字段存在但为空串也视为存在。
func extractText(payload map[string]any) (string, bool) {
	for _, key := range []string{"text", "delta", "content", "message"} {
		if text, ok := payload[key].(string); ok {
			return text, true
		}
	}
	return "", false
}

func extractToolName(payload map[string]any) string {
	if name := util.FirstNonEmpty(extractFirstString(payload, "tool", "tool_name", "toolName", "name")); name != "" {
		return name
	}
	if inv, ok := payload["invocation"].(map[string]any); ok {
		server := strings.TrimSpace(extractFirstString(inv, "server"))
		tool := strings.TrimSpace(extractFirstString(inv, "tool"))
		switch {
		case server != "" && tool != "":
			return server + "." + tool
		case tool != "":
			return tool
		}
	}
	return ""
}

func extractDetail(payload map[string]any) string {
	if detail := extractFirstString(payload, "detail", "description"); detail != "" {
		return detail
	}
	switch cmd := payload["command"].(type) {
	case string:
		return cmd
	case []any:
		parts := make([]string, 0, len(cmd))
		for _, p := range cmd {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func extractResult(payload map[string]any) any {
	for _, key := range []string{"result", "output", "aggregated_output", "content"} {
		if v, ok := payload[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func extractIsError(payload map[string]any) bool {
	if v, ok := payload["isError"].(bool); ok {
		return v
	}
	if v, ok := payload["is_error"].(bool); ok {
		return v
	}
	if v, ok := payload["success"].(bool); ok {
		return !v
	}
	if status, ok := payload["status"].(string); ok {
		s := strings.ToLower(status)
		return s == "error" || s == "failed"
	}
	if code, ok := payload["exit_code"].(float64); ok {
		return code != 0
	}
	return false
}

func extractBool(payload map[string]any, def bool, keys ...string) bool {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true
			case "false", "0", "no":
				return false
			}
		}
	}
	return def
}
