package apiserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

// maxSessionsLimit /api/sessions 单次最多返回的会话数。
const maxSessionsLimit = 500

type turnRequest struct {
	Text string `json:"text"`
}

type artifactRequest struct {
	URL  string `json:"url" binding:"required"`
	Kind string `json:"kind"`
}

type scrollRequest struct {
	Distance *int `json:"distance" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	success(c, gin.H{
		"status":      "ok",
		"session":     s.session.ID(),
		"closed":      s.session.Closed(),
		"subscribers": s.bus.Len(),
		"connections": s.connCount(),
	})
}

// handleEvents 接收后端事件。请求体为单个事件对象, 或按到达顺序排列的事件数组。
func (s *Server) handleEvents(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.cfg.MaxEventBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody("payload_too_large", "event exceeds "+strconv.Itoa(s.cfg.MaxEventBytes)+" bytes"))
			return
		}
		badRequest(c, "read_failed", err.Error())
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			badRequest(c, "malformed_batch", err.Error())
			return
		}
		applied := 0
		for _, raw := range batch {
			if s.session.ProcessEvent(raw) {
				applied++
			}
		}
		success(c, gin.H{"received": len(batch), "applied": applied, "seq": s.session.CurrentTranscript().Seq})
		return
	}

	// 单个事件: 无法解码的负载由解码器丢弃并计数, 不视为请求错误
	applied := s.session.ProcessEvent(trimmed)
	success(c, gin.H{"received": 1, "applied": boolToInt(applied), "seq": s.session.CurrentTranscript().Seq})
}

func (s *Server) handleTranscript(c *gin.Context) {
	success(c, s.session.CurrentTranscript())
}

// handleTurn 用户发言; text 为空时仅开启新一轮占位条目。
func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	if s.session.Closed() {
		conflict(c, "closed", "session is closed")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		success(c, gin.H{"entryId": s.session.StartTurn()})
		return
	}
	s.session.BeginUserTurn(req.Text)
	success(c, gin.H{"seq": s.session.CurrentTranscript().Seq})
}

func (s *Server) handleInterrupt(c *gin.Context) {
	success(c, gin.H{"interrupted": s.session.Interrupt()})
}

func (s *Server) handleArtifact(c *gin.Context) {
	var req artifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	id, ok := s.session.AttachArtifact(req.URL, req.Kind)
	if !ok {
		notFound(c, "no finalized assistant entry to attach to")
		return
	}
	success(c, gin.H{"entryId": id})
}

func (s *Server) handleScroll(c *gin.Context) {
	var req scrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	success(c, gin.H{"scroll": s.session.ReportScroll(*req.Distance)})
}

// handleRestore 从持久化历史恢复当前会话。
func (s *Server) handleRestore(c *gin.Context) {
	if s.history == nil {
		unavailable(c, "history persistence is not configured")
		return
	}
	entries, err := s.history.Load(c.Request.Context(), s.session.ID())
	if err != nil {
		fail(c, err)
		return
	}
	// 空历史不能覆盖当前转录
	if len(entries) == 0 {
		notFound(c, "no persisted history for this session")
		return
	}
	if !s.session.Hydrate(entries) {
		conflict(c, "streaming", "cannot restore while a response is streaming")
		return
	}
	logger.FromContext(c.Request.Context()).Info("apiserver: session restored", logger.FieldCount, len(entries))
	success(c, gin.H{"entries": len(entries), "seq": s.session.CurrentTranscript().Seq})
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.history == nil {
		unavailable(c, "history persistence is not configured")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		badRequest(c, "invalid_limit", "limit must be an integer")
		return
	}
	limit = util.ClampInt(limit, 1, maxSessionsLimit)
	sessions, err := s.history.Sessions(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, sessions)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// viewEnvelope 是 SSE / WebSocket 下行帧。
type viewEnvelope struct {
	Type string          `json:"type"`
	View transcript.View `json:"view"`
}
