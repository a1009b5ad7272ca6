package transcript

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// ReasoningState 推理面板状态。
type ReasoningState string

const (
	ReasoningCollecting ReasoningState = "collecting"
	ReasoningClosed     ReasoningState = "closed"
)

// ReasoningTrace 是推理面板的只读快照。
type ReasoningTrace struct {
	State     ReasoningState `json:"state"`
	Text      string         `json:"text"`
	CharCount int            `json:"charCount"`
}

// ReasoningPanel 跟踪单段推理文本: 收集中只追加, 关闭后冻结字符数且不可再变。
type ReasoningPanel struct {
	state     ReasoningState
	buf       strings.Builder
	charCount int
	log       *slog.Logger
}

func newReasoningPanel(log *slog.Logger) *ReasoningPanel {
	if log == nil {
		log = logger.Get()
	}
	return &ReasoningPanel{state: ReasoningCollecting, log: log}
}

func restoreReasoning(tr ReasoningTrace) *ReasoningPanel {
	p := &ReasoningPanel{state: ReasoningClosed, log: logger.Get()}
	p.buf.WriteString(tr.Text)
	p.charCount = utf8.RuneCountInString(tr.Text)
	return p
}

// Collecting 报告面板是否仍可追加。
func (p *ReasoningPanel) Collecting() bool { return p.state == ReasoningCollecting }

// Open 对仍在收集的面板是 no-op; 已关闭的面板不能重新打开, 返回 false。
func (p *ReasoningPanel) Open() bool {
	if p.state == ReasoningClosed {
		p.log.Debug("transcript: reopen of closed reasoning panel ignored")
		return false
	}
	return true
}

// Append 追加推理文本。关闭后的追加被忽略并记录为时序异常。
func (p *ReasoningPanel) Append(text string) bool {
	if p.state == ReasoningClosed {
		p.log.Warn("transcript: reasoning append after close", logger.FieldLen, len(text))
		return false
	}
	if text == "" {
		return false
	}
	p.buf.WriteString(text)
	return true
}

// Close 关闭面板并冻结字符数。重复关闭返回 false。
func (p *ReasoningPanel) Close() bool {
	if p.state == ReasoningClosed {
		return false
	}
	p.state = ReasoningClosed
	p.charCount = utf8.RuneCountInString(p.buf.String())
	return true
}

// CharCount 关闭后为冻结值; 收集中返回当前长度。
func (p *ReasoningPanel) CharCount() int {
	if p.state == ReasoningClosed {
		return p.charCount
	}
	return utf8.RuneCountInString(p.buf.String())
}

func (p *ReasoningPanel) Snapshot() ReasoningTrace {
	return ReasoningTrace{State: p.state, Text: p.buf.String(), CharCount: p.CharCount()}
}
