package termview

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/agent-shell/internal/transcript"
)

func project(t *testing.T, events ...transcript.Event) transcript.View {
	t.Helper()
	s := transcript.NewSession(transcript.DefaultOptions(), transcript.Deps{})
	for _, ev := range events {
		s.Apply(ev)
	}
	return s.CurrentTranscript()
}

func TestRender_EntryParts(t *testing.T) {
	view := project(t,
		transcript.UserMessage("find the bug"),
		transcript.ReasoningDelta("look at the parser first"),
		transcript.ToolStart("grep", "parseHeader"),
		transcript.ToolResult("grep", "parser.go:12\nparser.go:40", false),
		transcript.TextDelta("Found it in **parser.go**"),
		transcript.Done(true),
	)
	out := New(Options{Width: 80, Style: "notty"}).Render(view)

	assert.Contains(t, out, "You")
	assert.Contains(t, out, "find the bug")
	assert.Contains(t, out, "▸ Thought")
	assert.Contains(t, out, "✓ grep  parseHeader")
	assert.Contains(t, out, "parser.go:40")
	assert.Contains(t, out, "parser.go")
	assert.NotContains(t, out, "Assistant ●", "finalized entry is not streaming")
}

func TestRender_StreamingAndDetached(t *testing.T) {
	view := project(t,
		transcript.ReasoningDelta("step one"),
		transcript.ToolStart("shell", "make"),
	)
	view.Scroll = transcript.ScrollDetached
	out := New(Options{Width: 60, Style: "notty"}).Render(view)

	assert.Contains(t, out, "Assistant ●")
	assert.Contains(t, out, "… shell  make")
	assert.Contains(t, out, "new output below")
}

func TestFit_WideRunes(t *testing.T) {
	r := New(Options{Width: 20, Style: "notty"})
	got := r.fit(strings.Repeat("日", 30), 2)
	assert.LessOrEqual(t, runewidth.StringWidth(got), 18)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestHeadLines(t *testing.T) {
	lines := headLines("a\nb\nc\nd", 2)
	require.Len(t, lines, 3)
	assert.Equal(t, "(+2 lines)", lines[2])
	assert.Equal(t, []string{"c", "d"}, tailLines("a\nb\nc\nd", 2))
}

func TestRender_CacheDropsRemovedEntries(t *testing.T) {
	r := New(Options{Width: 40, Style: "notty"})
	view := project(t, transcript.TextDelta("one"), transcript.Done(true))
	r.Render(view)
	require.Len(t, r.cache, 1)

	r.Render(transcript.View{})
	assert.Empty(t, r.cache)
}
