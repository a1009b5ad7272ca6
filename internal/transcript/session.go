package transcript

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// Sink 接收每次渲染后的投影。实现必须非阻塞, 否则会拖慢事件分发。
type Sink interface {
	Publish(View)
}

// SinkFunc 适配普通函数为 Sink。
type SinkFunc func(View)

func (f SinkFunc) Publish(v View) { f(v) }

// Deps 是 Session 的可选协作者。
type Deps struct {
	// SessionID 为空时生成新的 UUID; 从持久化历史恢复时传入原 ID。
	SessionID  string
	Markup     MarkupRenderer
	Observer   Observer
	Sink       Sink
	OnFinalize FinalizedHook
}

// Session 组合解码、状态、投影与滚动策略, 是宿主唯一的入口。
//
// 所有方法并发安全: 事件在锁内按到达顺序逐条应用, 从不批量或重排。
type Session struct {
	mu sync.Mutex

	id        string
	decoder   *Decoder
	store     *Store
	projector *Projector
	scroll    *ScrollPolicy
	sink      Sink
	log       *slog.Logger

	seq  uint64
	last View
}

// NewSession 创建会话。opts 为只读快照, 创建后不再变化;
// 零值字段取默认值, 关闭噪声过滤需显式传 NoiseFilterDisabled。
func NewSession(opts Options, deps Deps) *Session {
	opts = opts.withDefaults()
	id := deps.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:        id,
		decoder:   NewDecoder(opts, deps.Observer),
		store:     NewStore(deps.Observer, deps.OnFinalize),
		projector: NewProjector(deps.Markup, opts.ResultPreviewLimit),
		scroll:    NewScrollPolicy(opts.ScrollThresholdPx),
		sink:      deps.Sink,
		log:       logger.With(logger.FieldComponent, "transcript", logger.FieldSessionID, id),
	}
	s.last = View{SessionID: id, Entries: []EntryView{}, Scroll: ScrollPinned}
	return s
}

// ID 返回会话 ID。
func (s *Session) ID() string { return s.id }

// ProcessEvent 解码并应用一条原始后端消息, 返回是否产生了状态变化。
func (s *Session) ProcessEvent(raw []byte) bool {
	ev, ok := s.decoder.Decode(raw)
	if !ok {
		return false
	}
	return s.Apply(ev)
}

// ProcessNamed 用于已拆分类型名与负载的通道 (WebSocket 帧、桌面桥接)。
func (s *Session) ProcessNamed(name string, payload map[string]any) bool {
	ev, ok := s.decoder.DecodeMap(name, payload)
	if !ok {
		return false
	}
	return s.Apply(ev)
}

// Apply 应用已解码事件。成功后重新投影并评估滚动。
func (s *Session) Apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(s.store.Apply(ev))
}

// CurrentTranscript 返回最近一次渲染的只读投影。
func (s *Session) CurrentTranscript() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Entries 返回条目快照。
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Entries()
}

// AttachArtifact 将回放资源挂到最近收尾的助手条目, 返回目标条目 ID。
func (s *Session) AttachArtifact(url, kind string) (string, bool) {
	if kind == "" {
		kind = "audio"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.store.AttachArtifact(Artifact{URL: url, Kind: kind})
	s.commitLocked(ok)
	return id, ok
}

// ReportScroll 记录用户滚动后的底部距离。不触发渲染。
func (s *Session) ReportScroll(distanceFromBottom int) ScrollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.scroll.UserScrolled(distanceFromBottom)
	s.last.Scroll = state
	return state
}

// BeginUserTurn 追加用户条目, 并收尾任何遗留的 active 条目。
func (s *Session) BeginUserTurn(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(s.store.AppendUser(text))
}

// StartTurn 显式创建空占位条目, 返回其 ID。
func (s *Session) StartTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.store.StartTurn()
	s.commitLocked(id != "")
	return id
}

// Interrupt 在停止请求被确认后调用, 将进行中的步骤标记为 interrupted。幂等。
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(s.store.Interrupt())
}

// Hydrate 用历史条目重建转录。正在流式输出时拒绝。
func (s *Session) Hydrate(history []Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.Hydrate(history) {
		return false
	}
	s.projector.Reset()
	s.log.Info("transcript: hydrated", logger.FieldCount, s.store.Len())
	return s.commitLocked(true)
}

// Close 拆除会话。之后的事件均为 no-op。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Close()
}

// Closed 报告会话是否已关闭。
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Closed()
}

// commitLocked 在状态变化后重新投影、评估滚动并推送给 sink。
func (s *Session) commitLocked(changed bool) bool {
	if !changed {
		return false
	}
	s.seq++
	view := View{
		SessionID:   s.id,
		Seq:         s.seq,
		Entries:     s.projector.Project(s.store.Entries()),
		ScrollToEnd: s.scroll.OnRender(),
		Scroll:      s.scroll.State(),
	}
	s.last = view
	if s.sink != nil {
		s.sink.Publish(view)
	}
	return true
}
