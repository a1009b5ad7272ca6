package transcript

import (
	"strings"
	"testing"
)

type countingMarkup struct {
	calls int
}

func (m *countingMarkup) Render(_ Role, content string) string {
	m.calls++
	return "<p>" + content + "</p>"
}

func TestProjector_HistoricalEntriesRenderedOnce(t *testing.T) {
	markup := &countingMarkup{}
	p := NewProjector(markup, 100)
	s := NewStore(nil, nil)

	applyAll(s, TextDelta("first"), Done(true), TextDelta("second"), Done(true), TextDelta("x"))
	p.Project(s.Entries())
	if markup.calls != 3 {
		t.Fatalf("initial renders = %d, want 3", markup.calls)
	}

	for i := 0; i < 5; i++ {
		s.Apply(TextDelta("y"))
		p.Project(s.Entries())
	}
	if markup.calls != 8 {
		t.Fatalf("renders = %d, want 8 (only the active entry re-rendered)", markup.calls)
	}
}

func TestProjector_CachedViewsAreCopies(t *testing.T) {
	p := NewProjector(&countingMarkup{}, 100)
	s := NewStore(nil, nil)
	applyAll(s, ToolStart("grep", "x"), ToolResult("grep", "hit", false), TextDelta("ok"), Done(true))

	first := p.Project(s.Entries())
	first[0].Activity[0].Label = "tampered"
	second := p.Project(s.Entries())
	if second[0].Activity[0].Label != "grep" {
		t.Fatalf("cached label = %q, want grep", second[0].Activity[0].Label)
	}
}

func TestProjector_ResultHiddenUntilTerminal(t *testing.T) {
	p := NewProjector(nil, 100)
	views := p.Project([]Entry{{
		ID: "entry-1", Role: RoleAssistant, Status: StatusActive,
		Activity: []ActivityStep{
			{Label: "a", Status: StepRunning, Result: "leak", HasResult: true},
			{Label: "b", Status: StepDone, Result: "visible", HasResult: true},
		},
	}})
	steps := views[0].Activity
	if steps[0].Result != "" {
		t.Fatalf("running step shows result %q", steps[0].Result)
	}
	if steps[1].Result != "visible" {
		t.Fatalf("done step result = %q", steps[1].Result)
	}
}

func TestProjector_TruncatesLargeResults(t *testing.T) {
	p := NewProjector(nil, 10)
	full := strings.Repeat("z", 25)
	entry := Entry{
		ID: "entry-1", Role: RoleAssistant, Status: StatusFinalized,
		Activity: []ActivityStep{{Label: "dump", Status: StepDone, Result: full, HasResult: true}},
	}
	v := p.Project([]Entry{entry})[0].Activity[0]
	if !v.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if !strings.HasPrefix(v.Result, strings.Repeat("z", 10)) || !strings.Contains(v.Result, "[truncated 15 chars]") {
		t.Fatalf("result = %q", v.Result)
	}
	if entry.Activity[0].Result != full {
		t.Fatal("underlying result must keep the full value")
	}
}

func TestProjector_StructuredAndUnavailableResults(t *testing.T) {
	p := NewProjector(nil, 1000)
	entry := Entry{
		ID: "entry-1", Role: RoleAssistant, Status: StatusFinalized,
		Activity: []ActivityStep{
			{Label: "json", Status: StepDone, Result: map[string]any{"rows": 2}, HasResult: true},
			{Label: "chan", Status: StepError, Result: make(chan int), HasResult: true},
		},
	}
	steps := p.Project([]Entry{entry})[0].Activity
	if !strings.Contains(steps[0].Result, `"rows": 2`) {
		t.Fatalf("structured result = %q", steps[0].Result)
	}
	if steps[1].Result != ResultUnavailable {
		t.Fatalf("unstringifiable result = %q, want placeholder", steps[1].Result)
	}
}

func TestProjector_ReasoningAndDimming(t *testing.T) {
	p := NewProjector(nil, 100)
	views := p.Project([]Entry{
		{ID: "entry-1", Role: RoleAssistant, Status: StatusFinalized, Content: "ok",
			Reasoning: []ReasoningTrace{{State: ReasoningClosed, Text: "abc", CharCount: 3}}},
		{ID: "entry-2", Role: RoleAssistant, Status: StatusActive,
			Reasoning: []ReasoningTrace{{State: ReasoningCollecting, Text: "thinking"}}},
	})
	if !views[0].Dimmed || !views[0].Reasoning[0].Collapsed {
		t.Fatalf("finalized view = %+v", views[0])
	}
	if !strings.Contains(views[0].Reasoning[0].Label, "3 chars") {
		t.Fatalf("label = %q", views[0].Reasoning[0].Label)
	}
	if views[1].Dimmed || views[1].Reasoning[0].Collapsed || !views[1].Streaming {
		t.Fatalf("active view = %+v", views[1])
	}
}

func TestProjector_MarkupPanicFallsBackToEscape(t *testing.T) {
	p := NewProjector(MarkupFunc(func(Role, string) string { panic("renderer bug") }), 100)
	v := p.Project([]Entry{{ID: "entry-1", Role: RoleAssistant, Content: "<b>x</b>", Revision: 1}})[0]
	if v.Markup != "&lt;b&gt;x&lt;/b&gt;" {
		t.Fatalf("markup = %q", v.Markup)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"bytes", []byte("raw"), "raw"},
		{"number", 3, "3"},
		{"slice", []string{"a"}, "[\n  \"a\"\n]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResult(tt.in); got != tt.want {
				t.Fatalf("FormatResult(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
