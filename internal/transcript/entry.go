package transcript

import (
	"strings"
	"time"
)

// Role 条目角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status 条目状态。任一时刻至多一个条目处于 active。
type Status string

const (
	StatusActive    Status = "active"
	StatusFinalized Status = "finalized"
)

// Artifact 事后挂载到条目上的回放资源 (如合成语音)。
type Artifact struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// Entry 是条目的只读快照。Store 内部状态变化不会影响已返回的快照。
type Entry struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Status    Status           `json:"status"`
	Reasoning []ReasoningTrace `json:"reasoning,omitempty"`
	Activity  []ActivityStep   `json:"activity,omitempty"`
	Artifact  *Artifact        `json:"artifact,omitempty"`
	Revision  uint64           `json:"revision"`
	CreatedAt time.Time        `json:"createdAt"`
}

// HasReasoning / HasActivity 对应可选子面板是否存在。
func (e Entry) HasReasoning() bool { return len(e.Reasoning) > 0 }
func (e Entry) HasActivity() bool  { return len(e.Activity) > 0 }

// IsBlank 报告条目是否既无文本也无子面板, 这类条目收尾时被丢弃。
func (e Entry) IsBlank() bool {
	return strings.TrimSpace(e.Content) == "" && !e.HasReasoning() && !e.HasActivity()
}

// clone 深拷贝子面板切片与 Artifact, 调用方修改返回值不会写回缓存。
func (e Entry) clone() Entry {
	if e.Reasoning != nil {
		e.Reasoning = append([]ReasoningTrace(nil), e.Reasoning...)
	}
	if e.Activity != nil {
		e.Activity = append([]ActivityStep(nil), e.Activity...)
	}
	if e.Artifact != nil {
		a := *e.Artifact
		e.Artifact = &a
	}
	return e
}

// entryState 是 Store 持有的可变条目。
type entryState struct {
	id        string
	role      Role
	status    Status
	content   string
	reasoning []*ReasoningPanel
	activity  *ActivityPanel
	artifact  *Artifact
	revision  uint64
	createdAt time.Time

	snap    Entry
	snapRev uint64
	hasSnap bool
}

func (e *entryState) touch() { e.revision++ }

// openReasoning 返回仍在收集中的推理面板 (只可能是最后一个)。
func (e *entryState) openReasoning() *ReasoningPanel {
	if n := len(e.reasoning); n > 0 && e.reasoning[n-1].Collecting() {
		return e.reasoning[n-1]
	}
	return nil
}

// closeReasoning 强制关闭打开的推理面板, 返回是否有变化。
func (e *entryState) closeReasoning() bool {
	if p := e.openReasoning(); p != nil && p.Close() {
		e.touch()
		return true
	}
	return false
}

func (e *entryState) blank() bool {
	return strings.TrimSpace(e.content) == "" && len(e.reasoning) == 0 &&
		(e.activity == nil || e.activity.Len() == 0)
}

// snapshot 返回缓存快照的副本; 缓存仅在 revision 变化后重建。
func (e *entryState) snapshot() Entry {
	if e.hasSnap && e.snapRev == e.revision {
		return e.snap.clone()
	}
	snap := Entry{
		ID:        e.id,
		Role:      e.role,
		Content:   e.content,
		Status:    e.status,
		Revision:  e.revision,
		CreatedAt: e.createdAt,
	}
	if len(e.reasoning) > 0 {
		snap.Reasoning = make([]ReasoningTrace, len(e.reasoning))
		for i, p := range e.reasoning {
			snap.Reasoning[i] = p.Snapshot()
		}
	}
	if e.activity != nil && e.activity.Len() > 0 {
		snap.Activity = e.activity.Steps()
	}
	if e.artifact != nil {
		a := *e.artifact
		snap.Artifact = &a
	}
	e.snap, e.snapRev, e.hasSnap = snap, e.revision, true
	return snap.clone()
}

// restoreEntry 从持久化快照重建条目, 一律视为已收尾。
func restoreEntry(src Entry) *entryState {
	e := &entryState{
		id:        src.ID,
		role:      src.Role,
		status:    StatusFinalized,
		content:   src.Content,
		revision:  src.Revision,
		createdAt: src.CreatedAt,
	}
	if e.role != RoleUser {
		e.role = RoleAssistant
	}
	for _, tr := range src.Reasoning {
		e.reasoning = append(e.reasoning, restoreReasoning(tr))
	}
	if len(src.Activity) > 0 {
		e.activity = restoreActivity(src.Activity)
	}
	if src.Artifact != nil {
		a := *src.Artifact
		e.artifact = &a
	}
	return e
}
