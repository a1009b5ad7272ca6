package main

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/multi-agent/agent-shell/internal/config"
	"github.com/multi-agent/agent-shell/internal/host"
	"github.com/multi-agent/agent-shell/internal/store"
	"github.com/multi-agent/agent-shell/internal/transcript"
	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type emitted struct {
	mu    sync.Mutex
	views []transcript.View
}

func (e *emitted) record(name string, data any) {
	if name != EventTranscriptChanged {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.views = append(e.views, data.(transcript.View))
}

func (e *emitted) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.views)
}

func newTestApp(t *testing.T) (*App, *emitted) {
	t.Helper()
	cfg := config.Load()
	cfg.PostgresConnStr = ""
	cfg.SessionID = ""
	h, err := host.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)

	a := NewApp(h)
	rec := &emitted{}
	a.emit = rec.record
	return a, rec
}

func TestApp_ForwardsViewsUntilShutdown(t *testing.T) {
	a, rec := newTestApp(t)
	require.NoError(t, a.ServiceStartup(context.Background(), application.ServiceOptions{}))

	a.host.Session.Apply(transcript.TextDelta("hello"))
	a.host.Session.Apply(transcript.Done(true))
	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.ServiceShutdown())
	a.host.Session.Apply(transcript.TextDelta("after shutdown"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, rec.len())
}

func TestApp_BoundMethods(t *testing.T) {
	a, _ := newTestApp(t)

	assert.False(t, a.SendMessage("   "))
	assert.True(t, a.SendMessage("summarize the logs"))
	id := a.StartTurn()
	assert.NotEmpty(t, id)

	a.host.Session.Apply(transcript.ToolStart("shell", "tail -f app.log"))
	assert.True(t, a.Interrupt())
	assert.Equal(t, "detached", a.ReportScroll(500))
	assert.Equal(t, "pinned", a.ReportScroll(0))

	view := a.GetTranscript()
	require.Len(t, view.Entries, 2)
	assert.Equal(t, transcript.RoleUser, view.Entries[0].Role)
	assert.Equal(t, id, view.Entries[1].ID)
}

func TestApp_AttachArtifact(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.AttachArtifact("", "audio")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = a.AttachArtifact("blob:tts-1", "audio")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	a.host.Session.Apply(transcript.TextDelta("spoken"))
	a.host.Session.Apply(transcript.Done(true))
	id, err := a.AttachArtifact("blob:tts-1", "audio")
	require.NoError(t, err)
	assert.Equal(t, a.GetTranscript().Entries[0].ID, id)
}

func TestApp_HistoryUnavailable(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.Restore()
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.CodeOf(err))
	_, err = a.ListSessions(10)
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.CodeOf(err))
}

type staticHistory struct {
	entries []transcript.Entry
}

func (h staticHistory) Load(context.Context, string) ([]transcript.Entry, error) {
	return h.entries, nil
}

func (h staticHistory) Sessions(context.Context, int) ([]store.SessionInfo, error) {
	return nil, nil
}

func TestApp_RestoreEmptyHistoryKeepsTranscript(t *testing.T) {
	a, _ := newTestApp(t)
	a.history = staticHistory{}
	a.host.Session.Apply(transcript.TextDelta("live"))
	a.host.Session.Apply(transcript.Done(true))

	n, err := a.Restore()
	assert.Zero(t, n)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	require.Len(t, a.GetTranscript().Entries, 1)
	assert.Equal(t, "live", a.GetTranscript().Entries[0].Text)

	a.history = staticHistory{entries: []transcript.Entry{
		{ID: "entry-7", Role: transcript.RoleAssistant, Status: transcript.StatusFinalized, Content: "stored"},
	}}
	n, err = a.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "stored", a.GetTranscript().Entries[0].Text)
}

func TestBuildInfoFrom(t *testing.T) {
	bi := buildInfoFrom(vcsInfo{revision: "0123456789abcdef", time: "2026-03-01T10:00:00Z", modified: true})
	assert.Equal(t, "dev+0123456789ab-dirty", bi.Version)
	assert.Equal(t, "0123456789ab-dirty", bi.Commit)
	assert.Equal(t, "2026-03-01 10:00:00 UTC", bi.BuildTime)
	assert.NotEmpty(t, bi.GoVersion)

	bare := buildInfoFrom(vcsInfo{})
	assert.Equal(t, "dev", bare.Version)
	assert.Equal(t, "unknown", bare.Commit)
	assert.Equal(t, "unknown", bare.BuildTime)
}
