package transcript

import (
	"fmt"
	"sync"
	"testing"
)

type recordingSink struct {
	mu    sync.Mutex
	views []View
}

func (r *recordingSink) Publish(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recordingSink) lastView() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[len(r.views)-1]
}

func newTestSession(sink Sink) *Session {
	return NewSession(DefaultOptions(), Deps{Sink: sink})
}

func TestSession_ProcessEventEndToEnd(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)

	for _, raw := range []string{
		`{"type":"agent_reasoning_delta","delta":"plan the search"}`,
		`{"type":"text-delta","text":"Looking"}`,
		`{"type":"mcp_tool_call_begin","invocation":{"server":"web","tool":"search"}}`,
		`{"type":"mcp_tool_call_end","result":{"hits":2}}`,
		`{"type":"text-delta","text":" it up"}`,
		`{"type":"turn_complete"}`,
	} {
		if !s.ProcessEvent([]byte(raw)) {
			t.Fatalf("ProcessEvent(%s) made no change", raw)
		}
	}

	view := s.CurrentTranscript()
	if len(view.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(view.Entries))
	}
	e := view.Entries[0]
	if e.Text != "Looking it up" || e.Status != StatusFinalized {
		t.Fatalf("entry = %+v", e)
	}
	if len(e.Reasoning) != 1 || !e.Reasoning[0].Collapsed {
		t.Fatalf("reasoning = %+v", e.Reasoning)
	}
	if len(e.Activity) != 1 || e.Activity[0].Label != "web.search" || e.Activity[0].Status != StepDone {
		t.Fatalf("activity = %+v", e.Activity)
	}
	if sink.len() != 6 {
		t.Fatalf("sink publishes = %d, want 6", sink.len())
	}
	if view.Seq != 6 || view.SessionID != s.ID() {
		t.Fatalf("view seq=%d session=%s", view.Seq, view.SessionID)
	}
}

func TestSession_GarbageProducesNoRender(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	s.ProcessEvent([]byte(`{"type":"text-delta","text":"hello"}`))
	before := s.CurrentTranscript()

	if s.ProcessEvent([]byte(`{"type":"text-delta","text":"..."}`)) {
		t.Fatal("noise should not apply")
	}
	after := s.CurrentTranscript()
	if after.Seq != before.Seq || after.Entries[0].Text != "hello" {
		t.Fatalf("noise mutated transcript: %+v", after)
	}
	if sink.len() != 1 {
		t.Fatalf("sink publishes = %d, want 1", sink.len())
	}

	fresh := newTestSession(nil)
	fresh.ProcessEvent([]byte(`{"type":"text-delta","text":"..."}`))
	if len(fresh.Entries()) != 0 {
		t.Fatal("noise must not create an entry")
	}
}

func TestSession_ScrollDetachmentPersists(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	s.Apply(TextDelta("start"))
	if !sink.lastView().ScrollToEnd {
		t.Fatal("pinned session should scroll on render")
	}

	s.ReportScroll(400)
	for i := 0; i < 5; i++ {
		s.Apply(TextDelta(fmt.Sprintf(" chunk%d", i)))
		if sink.lastView().ScrollToEnd {
			t.Fatalf("append %d forced a scroll while detached", i)
		}
	}

	s.ReportScroll(0)
	s.Apply(TextDelta(" back"))
	if !sink.lastView().ScrollToEnd {
		t.Fatal("append after returning to bottom should scroll")
	}
}

func TestSession_AttachArtifact(t *testing.T) {
	s := newTestSession(nil)
	if _, ok := s.AttachArtifact("blob:1", ""); ok {
		t.Fatal("attach with no finalized entry should fail")
	}
	s.Apply(TextDelta("spoken reply"))
	s.Apply(Done(true))
	id, ok := s.AttachArtifact("blob:1", "")
	if !ok {
		t.Fatal("attach failed")
	}
	view := s.CurrentTranscript()
	if view.Entries[0].ID != id || view.Entries[0].Artifact == nil || view.Entries[0].Artifact.Kind != "audio" {
		t.Fatalf("artifact view = %+v", view.Entries[0])
	}
}

func TestSession_UserTurnAndInterrupt(t *testing.T) {
	s := newTestSession(nil)
	s.Apply(ToolStart("shell", "sleep 100"))
	if !s.Interrupt() {
		t.Fatal("interrupt should mark running step")
	}
	if !s.BeginUserTurn("never mind") {
		t.Fatal("BeginUserTurn failed")
	}
	entries := s.Entries()
	if len(entries) != 2 || entries[0].Status != StatusFinalized || entries[1].Role != RoleUser {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Activity[0].Status != StepInterrupted {
		t.Fatalf("step = %+v", entries[0].Activity[0])
	}
	if id := s.StartTurn(); id == "" {
		t.Fatal("StartTurn failed")
	}
}

func TestSession_FinalizeHookAndHydrate(t *testing.T) {
	var saved []Entry
	s := NewSession(DefaultOptions(), Deps{OnFinalize: func(e Entry) { saved = append(saved, e) }})
	s.Apply(TextDelta("persist me"))
	s.Apply(Done(true))
	if len(saved) != 1 || saved[0].Content != "persist me" {
		t.Fatalf("saved = %+v", saved)
	}

	restored := newTestSession(nil)
	if !restored.Hydrate(saved) {
		t.Fatal("Hydrate failed")
	}
	view := restored.CurrentTranscript()
	if len(view.Entries) != 1 || view.Entries[0].Text != "persist me" {
		t.Fatalf("hydrated view = %+v", view)
	}
}

func TestSession_CloseStopsProcessing(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	s.Close()
	if !s.Closed() {
		t.Fatal("Closed() = false")
	}
	if s.ProcessEvent([]byte(`{"type":"text-delta","text":"late"}`)) {
		t.Fatal("event applied after close")
	}
	if sink.len() != 0 {
		t.Fatal("no renders expected after close")
	}
}

func TestSession_ConcurrentProducers(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)

	var wg sync.WaitGroup
	const producers, perProducer = 8, 50
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Apply(TextDelta("x"))
				_ = s.CurrentTranscript()
			}
		}()
	}
	wg.Wait()

	entries := s.Entries()
	if len(entries) != 1 || len(entries[0].Content) != producers*perProducer {
		t.Fatalf("content len = %d, want %d", len(entries[0].Content), producers*perProducer)
	}
	// 每次推送的 Seq 严格递增
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i := 1; i < len(sink.views); i++ {
		if sink.views[i].Seq != sink.views[i-1].Seq+1 {
			t.Fatalf("seq gap at %d: %d -> %d", i, sink.views[i-1].Seq, sink.views[i].Seq)
		}
	}
}
