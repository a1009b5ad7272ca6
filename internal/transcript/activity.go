package transcript

import (
	"log/slog"
	"time"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// StepStatus 工具步骤状态。
type StepStatus string

const (
	StepRunning         StepStatus = "running"
	StepDone            StepStatus = "done"
	StepError           StepStatus = "error"
	StepPendingApproval StepStatus = "pending-approval"
	StepInterrupted     StepStatus = "interrupted"
)

// Terminal 报告状态是否为终态。只有终态步骤才展示结果。
func (s StepStatus) Terminal() bool {
	return s == StepDone || s == StepError || s == StepInterrupted
}

// ActivityStep 是一次工具调用的只读快照。
type ActivityStep struct {
	Label     string     `json:"label"`
	Detail    string     `json:"detail,omitempty"`
	Status    StepStatus `json:"status"`
	Result    any        `json:"result,omitempty"`
	HasResult bool       `json:"hasResult,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt,omitzero"`
}

// StepHandle 指向 AddStep 追加的步骤。后端不提供步骤 ID, 句柄只用于本地读取。
type StepHandle struct {
	index int
}

// Index 返回步骤在面板中的位置。
func (h StepHandle) Index() int { return h.index }

// StepUpdate 描述对最后一个步骤的更新。Detail 为空时保留原值。
type StepUpdate struct {
	Status    StepStatus
	Detail    string
	Result    any
	HasResult bool
}

// ActivityPanel 是单个条目的工具步骤日志, 只追加。
//
// UpdateLast 永远作用于最近追加的步骤: 假定同一轮内工具调用不并发。
type ActivityPanel struct {
	steps []ActivityStep
	log   *slog.Logger
	now   func() time.Time
}

func newActivityPanel(log *slog.Logger, now func() time.Time) *ActivityPanel {
	if log == nil {
		log = logger.Get()
	}
	if now == nil {
		now = time.Now
	}
	return &ActivityPanel{log: log, now: now}
}

func restoreActivity(steps []ActivityStep) *ActivityPanel {
	p := newActivityPanel(nil, nil)
	p.steps = append([]ActivityStep(nil), steps...)
	return p
}

// Len 返回步骤数。
func (p *ActivityPanel) Len() int { return len(p.steps) }

// AddStep 追加步骤并返回句柄。
func (p *ActivityPanel) AddStep(label, detail string, status StepStatus) StepHandle {
	if status == "" {
		status = StepRunning
	}
	p.steps = append(p.steps, ActivityStep{
		Label:     label,
		Detail:    detail,
		Status:    status,
		StartedAt: p.now(),
	})
	return StepHandle{index: len(p.steps) - 1}
}

// Step 按句柄读取步骤快照。
func (p *ActivityPanel) Step(h StepHandle) (ActivityStep, bool) {
	if h.index < 0 || h.index >= len(p.steps) {
		return ActivityStep{}, false
	}
	return p.steps[h.index], true
}

// UpdateLast 更新最近一个步骤。无步骤或最后一步已终结时视为孤立结果, 返回 false。
func (p *ActivityPanel) UpdateLast(u StepUpdate) bool {
	n := len(p.steps)
	if n == 0 {
		p.log.Warn("transcript: step update without any step")
		return false
	}
	last := &p.steps[n-1]
	if last.Status.Terminal() {
		p.log.Warn("transcript: step update after terminal status",
			logger.FieldToolName, last.Label, logger.FieldStatus, string(last.Status))
		return false
	}
	if u.Status != "" {
		last.Status = u.Status
	}
	if u.Detail != "" {
		last.Detail = u.Detail
	}
	if last.Status.Terminal() {
		last.EndedAt = p.now()
		if u.HasResult {
			last.Result, last.HasResult = u.Result, true
		}
	}
	return true
}

// Interrupt 将进行中的最后一步标记为 interrupted。幂等。
func (p *ActivityPanel) Interrupt() bool {
	n := len(p.steps)
	if n == 0 {
		return false
	}
	last := &p.steps[n-1]
	if last.Status != StepRunning && last.Status != StepPendingApproval {
		return false
	}
	last.Status = StepInterrupted
	last.EndedAt = p.now()
	return true
}

// Steps 返回步骤副本。
func (p *ActivityPanel) Steps() []ActivityStep {
	return append([]ActivityStep(nil), p.steps...)
}
