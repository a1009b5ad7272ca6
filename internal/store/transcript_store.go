package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/agent-shell/internal/transcript"
	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
)

// TranscriptStore 持久化已收尾的条目 (transcript_entries 表)。
//
// 同一条目可被多次保存 (替换指令、挂载回放资源), 按 revision 单调 upsert。
type TranscriptStore struct{ BaseStore }

// NewTranscriptStore 创建 TranscriptStore。
func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{NewBaseStore(pool)}
}

// entryPayload 是 payload jsonb 列的结构。
type entryPayload struct {
	Reasoning []transcript.ReasoningTrace `json:"reasoning,omitempty"`
	Activity  []transcript.ActivityStep   `json:"activity,omitempty"`
	Artifact  *transcript.Artifact        `json:"artifact,omitempty"`
}

type entryRow struct {
	EntryID   string          `db:"entry_id"`
	Role      string          `db:"role"`
	Status    string          `db:"status"`
	Content   string          `db:"content"`
	Payload   json.RawMessage `db:"payload"`
	Revision  int64           `db:"revision"`
	CreatedAt time.Time       `db:"created_at"`
}

// SessionInfo 会话摘要。
type SessionInfo struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	Entries   int64     `db:"entries" json:"entries"`
	LastSeen  time.Time `db:"last_seen" json:"lastSeen"`
}

// Save 写入或更新一个条目。旧 revision 不会覆盖新 revision。
func (s *TranscriptStore) Save(ctx context.Context, sessionID string, e transcript.Entry) error {
	if sessionID == "" || e.ID == "" {
		return apperrors.WithCode(apperrors.ErrInvalidInput, "TranscriptStore.Save", apperrors.CodeValidation,
			"session id and entry id are required")
	}
	payload, err := encodePayload(e)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.Save", "marshal payload")
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcript_entries
			(session_id, entry_id, seq, role, status, content, payload, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (session_id, entry_id) DO UPDATE SET
			status = EXCLUDED.status,
			content = EXCLUDED.content,
			payload = EXCLUDED.payload,
			revision = EXCLUDED.revision,
			updated_at = NOW()
		WHERE transcript_entries.revision <= EXCLUDED.revision
	`, sessionID, e.ID, entrySeq(e.ID), string(e.Role), string(e.Status), e.Content, payload,
		int64(e.Revision), createdAt)
	if err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Save", apperrors.CodeStorage, "upsert entry")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcript_sessions (session_id, last_seen)
		VALUES ($1, NOW())
		ON CONFLICT (session_id) DO UPDATE SET last_seen = NOW()
	`, sessionID)
	if err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Save", apperrors.CodeStorage, "touch session")
	}
	return nil
}

// Load 按条目顺序读取会话历史, 供 Session.Hydrate 使用。
func (s *TranscriptStore) Load(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, role, status, content, payload, revision, created_at
		FROM transcript_entries
		WHERE session_id = $1
		ORDER BY seq, created_at
	`, sessionID)
	if err != nil {
		return nil, apperrors.WithCode(err, "TranscriptStore.Load", apperrors.CodeStorage, "query entries")
	}
	items, err := collectRows[entryRow](rows)
	if err != nil {
		return nil, apperrors.WithCode(err, "TranscriptStore.Load", apperrors.CodeStorage, "scan entries")
	}

	entries := make([]transcript.Entry, 0, len(items))
	for _, row := range items {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}

// Sessions 列出最近活跃的会话。
func (s *TranscriptStore) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.session_id, COUNT(e.entry_id) AS entries, s.last_seen
		FROM transcript_sessions s
		LEFT JOIN transcript_entries e ON e.session_id = s.session_id
		GROUP BY s.session_id, s.last_seen
		ORDER BY s.last_seen DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.WithCode(err, "TranscriptStore.Sessions", apperrors.CodeStorage, "query sessions")
	}
	return collectRows[SessionInfo](rows)
}

// Delete 删除会话及其全部条目。
func (s *TranscriptStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Delete", apperrors.CodeStorage, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_entries WHERE session_id = $1`, sessionID); err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Delete", apperrors.CodeStorage, "delete entries")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM transcript_sessions WHERE session_id = $1`, sessionID); err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Delete", apperrors.CodeStorage, "delete session")
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.WithCode(err, "TranscriptStore.Delete", apperrors.CodeStorage, "commit")
	}
	return nil
}

// encodePayload 序列化子面板。无法序列化的工具结果降级为文本。
func encodePayload(e transcript.Entry) ([]byte, error) {
	p := entryPayload{Reasoning: e.Reasoning, Activity: e.Activity, Artifact: e.Artifact}
	data, err := json.Marshal(p)
	if err == nil {
		return data, nil
	}
	steps := make([]transcript.ActivityStep, len(e.Activity))
	for i, step := range e.Activity {
		if step.HasResult {
			step.Result = transcript.FormatResult(step.Result)
		}
		steps[i] = step
	}
	p.Activity = steps
	return json.Marshal(p)
}

func (r entryRow) toEntry() transcript.Entry {
	e := transcript.Entry{
		ID:        r.EntryID,
		Role:      transcript.Role(r.Role),
		Status:    transcript.Status(r.Status),
		Content:   r.Content,
		Revision:  uint64(max(r.Revision, 0)),
		CreatedAt: r.CreatedAt,
	}
	var p entryPayload
	if len(r.Payload) > 0 && json.Unmarshal(r.Payload, &p) == nil {
		e.Reasoning = p.Reasoning
		e.Activity = p.Activity
		e.Artifact = p.Artifact
	}
	return e
}

// entrySeq 从 "entry-N" 提取序号, 用于稳定排序。无法解析时为 0。
func entrySeq(id string) int64 {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "entry-"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
