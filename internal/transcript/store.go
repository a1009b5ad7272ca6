package transcript

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// Anomaly 标签, 记录乱序或孤立事件。
const (
	AnomalyOrphanResult      = "orphan_tool_result"
	AnomalyReasoningEnd      = "reasoning_end_without_panel"
	AnomalyArtifactNoTarget  = "artifact_without_target"
	AnomalyInterruptNoTarget = "interrupt_without_step"
	AnomalyAfterClose        = "event_after_close"
)

// FinalizedHook 在已收尾条目的快照发生变化时调用 (收尾、收尾后替换、挂载资源)。
type FinalizedHook func(Entry)

// Store 是转录状态的唯一所有者: 有序条目列表 + 至多一个 active 条目。
//
// Store 不做并发保护, 由 Session 串行调用。
type Store struct {
	entries []*entryState
	active  *entryState
	seq     uint64
	closed  bool

	onFinalize FinalizedHook
	obs        Observer
	log        *slog.Logger
	now        func() time.Time
}

// NewStore 创建空 Store。obs 与 hook 均可为 nil。
func NewStore(obs Observer, hook FinalizedHook) *Store {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Store{
		onFinalize: hook,
		obs:        obs,
		log:        logger.With(logger.FieldComponent, "transcript.store"),
		now:        time.Now,
	}
}

type storeHandler func(*Store, Event) bool

var storeHandlers = map[Kind]storeHandler{
	KindTextDelta:      handleTextDelta,
	KindTextFinal:      handleTextFinal,
	KindReasoningStart: handleReasoningStart,
	KindReasoningDelta: handleReasoningDelta,
	KindReasoningEnd:   handleReasoningEnd,
	KindToolStart:      handleToolStart,
	KindToolResult:     handleToolResult,
	KindToolPermission: handleToolPermission,
	KindReplace:        handleReplace,
	KindDone:           handleDone,
	KindArtifact:       handleArtifact,
	KindUserMessage:    handleUserMessage,
	KindInterrupted:    handleInterrupted,
}

// Apply 应用一个事件, 返回状态是否发生变化。关闭后的调用为 no-op。
func (s *Store) Apply(ev Event) bool {
	if s.closed {
		s.obs.Anomaly(AnomalyAfterClose)
		s.log.Debug("transcript: event after close", logger.FieldEventType, string(ev.Kind))
		return false
	}
	handler, ok := storeHandlers[ev.Kind]
	if !ok {
		s.log.Debug("transcript: no handler for event", logger.FieldEventType, string(ev.Kind))
		return false
	}
	return handler(s, ev)
}

// Entries 返回有序条目快照。未变化的条目复用缓存快照。
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.snapshot()
	}
	return out
}

// Active 返回当前 active 条目快照。
func (s *Store) Active() (Entry, bool) {
	if s.active == nil {
		return Entry{}, false
	}
	return s.active.snapshot(), true
}

// Len 返回条目数。
func (s *Store) Len() int { return len(s.entries) }

// Closed 报告 Store 是否已关闭。
func (s *Store) Closed() bool { return s.closed }

// Close 拆除 Store, 之后所有事件均为 no-op。
func (s *Store) Close() { s.closed = true }

// StartTurn 显式开启新一轮: 创建空占位 active 条目。已有 active 条目时直接返回其 ID。
func (s *Store) StartTurn() string {
	if s.closed {
		return ""
	}
	return s.ensureActive().id
}

// AppendUser 追加一条已收尾的用户条目。先收尾遗留的 active 条目, 避免其永远处于 active。
func (s *Store) AppendUser(text string) bool {
	if s.closed || strings.TrimSpace(text) == "" {
		return false
	}
	if s.active != nil {
		s.finalize(s.active)
	}
	e := s.newEntry(RoleUser)
	e.content = text
	e.status = StatusFinalized
	e.touch()
	s.obs.EntryFinalized(RoleUser)
	s.notifyFinalized(e)
	return true
}

// AttachArtifact 将资源挂到最近一个已收尾的助手条目上, 按条目身份而非位置。
func (s *Store) AttachArtifact(a Artifact) (string, bool) {
	if s.closed || strings.TrimSpace(a.URL) == "" {
		return "", false
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.status != StatusFinalized || e.role != RoleAssistant {
			continue
		}
		art := a
		e.artifact = &art
		e.touch()
		s.notifyFinalized(e)
		return e.id, true
	}
	s.obs.Anomaly(AnomalyArtifactNoTarget)
	s.log.Warn("transcript: artifact without finalized entry", logger.FieldURL, a.URL)
	return "", false
}

// Interrupt 将 active 条目 (无则最后一个助手条目) 的进行中步骤标记为 interrupted,
// 并关闭 active 条目上仍在收集的推理面板。两者均无变化时返回 false。
func (s *Store) Interrupt() bool {
	if s.closed {
		return false
	}
	target := s.active
	if target == nil {
		target = s.lastAssistant()
	}
	if target == nil {
		s.obs.Anomaly(AnomalyInterruptNoTarget)
		return false
	}
	closed := target == s.active && target.closeReasoning()
	interrupted := target.activity != nil && target.activity.Interrupt()
	if !closed && !interrupted {
		s.obs.Anomaly(AnomalyInterruptNoTarget)
		return false
	}
	target.touch()
	if target.status == StatusFinalized {
		s.notifyFinalized(target)
	}
	return true
}

// Hydrate 用持久化历史替换条目列表。存在 active 条目 (正在流式输出) 时拒绝。
func (s *Store) Hydrate(history []Entry) bool {
	if s.closed || s.active != nil {
		return false
	}
	next := make([]*entryState, 0, len(history))
	seen := make(map[string]struct{}, len(history))
	for _, h := range history {
		id := strings.TrimSpace(h.ID)
		if id == "" {
			continue
		}
		// 被跳过的条目同样占用序号, 保证 ID 永不复用。
		if n, ok := parseEntrySeq(id); ok && n > s.seq {
			s.seq = n
		}
		if _, dup := seen[id]; dup || h.IsBlank() {
			continue
		}
		seen[id] = struct{}{}
		h.ID = id
		next = append(next, restoreEntry(h))
	}
	s.entries = next
	return true
}

// ========================================
// 内部状态转换
// ========================================

func (s *Store) nextIDLocked() string {
	s.seq++
	return fmt.Sprintf("entry-%d", s.seq)
}

func parseEntrySeq(id string) (uint64, bool) {
	raw, ok := strings.CutPrefix(id, "entry-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	return n, err == nil
}

func (s *Store) newEntry(role Role) *entryState {
	e := &entryState{
		id:        s.nextIDLocked(),
		role:      role,
		status:    StatusActive,
		createdAt: s.now(),
	}
	s.entries = append(s.entries, e)
	return e
}

// ensureActive 返回 active 条目, 不存在时创建助手占位条目。
func (s *Store) ensureActive() *entryState {
	if s.active == nil {
		s.active = s.newEntry(RoleAssistant)
		s.active.touch()
	}
	return s.active
}

func (s *Store) lastAssistant() *entryState {
	if n := len(s.entries); n > 0 && s.entries[n-1].role == RoleAssistant {
		return s.entries[n-1]
	}
	return nil
}

func (s *Store) activityOf(e *entryState) *ActivityPanel {
	if e.activity == nil {
		e.activity = newActivityPanel(s.log, s.now)
	}
	return e.activity
}

// finalize 收尾条目: 强制关闭推理面板, 清空 active 槽位; 空白条目直接移除。
func (s *Store) finalize(e *entryState) {
	e.closeReasoning()
	e.status = StatusFinalized
	e.touch()
	if s.active == e {
		s.active = nil
	}
	if e.blank() {
		s.removeEntry(e)
		s.obs.EntryDropped()
		s.log.Debug("transcript: dropped empty entry", logger.FieldEntryID, e.id)
		return
	}
	s.obs.EntryFinalized(e.role)
	s.notifyFinalized(e)
}

func (s *Store) removeEntry(target *entryState) {
	for i, e := range s.entries {
		if e == target {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *Store) notifyFinalized(e *entryState) {
	if s.onFinalize != nil {
		s.onFinalize(e.snapshot())
	}
}

// ========================================
// 事件处理器
// ========================================

func handleTextDelta(s *Store, ev Event) bool {
	e := s.ensureActive()
	e.closeReasoning()
	e.content += ev.Text
	e.touch()
	return true
}

func handleTextFinal(s *Store, ev Event) bool {
	if s.active == nil && !ev.HasText {
		s.log.Debug("transcript: text-final without active entry")
		return false
	}
	e := s.ensureActive()
	if ev.HasText {
		e.content = ev.Text
	}
	s.finalize(e)
	return true
}

func handleReasoningStart(s *Store, _ Event) bool {
	e := s.ensureActive()
	if p := e.openReasoning(); p != nil {
		p.Open()
		return false
	}
	e.reasoning = append(e.reasoning, newReasoningPanel(s.log))
	e.touch()
	return true
}

func handleReasoningDelta(s *Store, ev Event) bool {
	e := s.ensureActive()
	p := e.openReasoning()
	if p == nil {
		p = newReasoningPanel(s.log)
		e.reasoning = append(e.reasoning, p)
	}
	p.Append(ev.Text)
	e.touch()
	return true
}

func handleReasoningEnd(s *Store, _ Event) bool {
	if s.active == nil || !s.active.closeReasoning() {
		s.obs.Anomaly(AnomalyReasoningEnd)
		s.log.Warn("transcript: reasoning-end without open panel")
		return false
	}
	return true
}

func handleToolStart(s *Store, ev Event) bool {
	return s.addStep(ev, StepRunning)
}

func handleToolPermission(s *Store, ev Event) bool {
	return s.addStep(ev, StepPendingApproval)
}

func (s *Store) addStep(ev Event, status StepStatus) bool {
	e := s.ensureActive()
	e.closeReasoning()
	s.activityOf(e).AddStep(ev.Tool, ev.Detail, status)
	e.touch()
	return true
}

func handleToolResult(s *Store, ev Event) bool {
	e := s.active
	if e == nil || e.activity == nil || e.activity.Len() == 0 {
		s.obs.Anomaly(AnomalyOrphanResult)
		s.log.Warn("transcript: tool-result without tool-start", logger.FieldToolName, ev.Tool)
		return false
	}
	closed := e.closeReasoning()
	status := StepDone
	if ev.IsError {
		status = StepError
	}
	if last, ok := e.activity.Step(StepHandle{index: e.activity.Len() - 1}); ok && ev.Tool != "" && last.Label != ev.Tool {
		s.log.Debug("transcript: tool-result label differs from last step",
			logger.FieldToolName, ev.Tool, "last", last.Label)
	}
	if !e.activity.UpdateLast(StepUpdate{Status: status, Detail: ev.Detail, Result: ev.Result, HasResult: true}) {
		s.obs.Anomaly(AnomalyOrphanResult)
		return closed
	}
	e.touch()
	return true
}

// handleReplace 整体替换 active 条目 (无则最后一个助手条目) 的内容, 从不拼接。
func handleReplace(s *Store, ev Event) bool {
	target := s.active
	if target == nil {
		target = s.lastAssistant()
	}
	if target == nil {
		target = s.ensureActive()
	}
	target.closeReasoning()
	target.content = ev.Text
	target.touch()
	switch {
	case target.status == StatusActive && ev.Final:
		s.finalize(target)
	case target.status == StatusFinalized:
		s.notifyFinalized(target)
	}
	return true
}

func handleDone(s *Store, ev Event) bool {
	e := s.active
	if e == nil {
		return false
	}
	if !ev.Finalize {
		return e.closeReasoning()
	}
	s.finalize(e)
	return true
}

func handleArtifact(s *Store, ev Event) bool {
	_, ok := s.AttachArtifact(Artifact{URL: ev.URL, Kind: ev.ArtifactKind})
	return ok
}

func handleUserMessage(s *Store, ev Event) bool {
	return s.AppendUser(ev.Text)
}

func handleInterrupted(s *Store, _ Event) bool {
	return s.Interrupt()
}
