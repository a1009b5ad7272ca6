package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/agent-shell/internal/database"
	"github.com/multi-agent/agent-shell/internal/transcript"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	connStr := os.Getenv("TEST_POSTGRES_CONNECTION_STRING")
	if connStr == "" {
		t.Skip("TEST_POSTGRES_CONNECTION_STRING not set")
	}
	pool, err := pgxpool.New(context.Background(), connStr)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), pool, database.Migrations()))
	return pool
}

func TestEntrySeq(t *testing.T) {
	tests := []struct {
		id   string
		want int64
	}{
		{"entry-1", 1},
		{"entry-42", 42},
		{"entry-", 0},
		{"custom", 0},
		{"entry--3", 0},
	}
	for _, tt := range tests {
		if got := entrySeq(tt.id); got != tt.want {
			t.Fatalf("entrySeq(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestEncodePayload_DegradesUnmarshalableResult(t *testing.T) {
	e := transcript.Entry{
		ID: "entry-1",
		Activity: []transcript.ActivityStep{
			{Label: "ok", Status: transcript.StepDone, Result: map[string]int{"n": 1}, HasResult: true},
			{Label: "bad", Status: transcript.StepDone, Result: make(chan int), HasResult: true},
		},
	}
	data, err := encodePayload(e)
	require.NoError(t, err)

	var p entryPayload
	require.NoError(t, json.Unmarshal(data, &p))
	require.Len(t, p.Activity, 2)
	assert.Equal(t, transcript.ResultUnavailable, p.Activity[1].Result)
	// 原条目不被修改
	_, isChan := e.Activity[1].Result.(chan int)
	assert.True(t, isChan)
}

func TestEntryRow_ToEntry(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	row := entryRow{
		EntryID:   "entry-3",
		Role:      "assistant",
		Status:    "finalized",
		Content:   "hi",
		Payload:   json.RawMessage(`{"reasoning":[{"state":"closed","text":"t","charCount":1}],"artifact":{"url":"blob:1","kind":"audio"}}`),
		Revision:  7,
		CreatedAt: created,
	}
	e := row.toEntry()
	assert.Equal(t, transcript.RoleAssistant, e.Role)
	assert.Equal(t, uint64(7), e.Revision)
	require.Len(t, e.Reasoning, 1)
	assert.Equal(t, 1, e.Reasoning[0].CharCount)
	require.NotNil(t, e.Artifact)
	assert.Equal(t, "blob:1", e.Artifact.URL)

	row.Payload = json.RawMessage(`not json`)
	assert.Empty(t, row.toEntry().Reasoning)
}

func TestTranscriptStore_SaveLoad(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	st := NewTranscriptStore(pool)
	ctx := context.Background()
	session := "test-" + time.Now().Format("150405.000000")
	defer func() { _ = st.Delete(ctx, session) }()

	first := transcript.Entry{ID: "entry-1", Role: transcript.RoleUser, Content: "q", Status: transcript.StatusFinalized, Revision: 1}
	second := transcript.Entry{ID: "entry-2", Role: transcript.RoleAssistant, Content: "a", Status: transcript.StatusFinalized, Revision: 4}
	require.NoError(t, st.Save(ctx, session, second))
	require.NoError(t, st.Save(ctx, session, first))

	// 旧 revision 不覆盖
	stale := second
	stale.Content = "stale"
	stale.Revision = 2
	require.NoError(t, st.Save(ctx, session, stale))

	got, err := st.Load(ctx, session)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "entry-1", got[0].ID)
	assert.Equal(t, "a", got[1].Content)

	sessions, err := st.Sessions(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, sessions)
}

func TestTranscriptStore_SaveValidates(t *testing.T) {
	st := NewTranscriptStore(nil)
	err := st.Save(context.Background(), "", transcript.Entry{ID: "entry-1"})
	assert.Error(t, err)
}
