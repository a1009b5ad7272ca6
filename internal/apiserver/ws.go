// ws.go: WebSocket 连接管理: 后端事件上行 (/ws/agent) 与视图双向通道 (/ws/view)。
package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

const (
	endpointAgent = "agent"
	endpointView  = "view"
)

// connEntry WebSocket 连接 + 写锁 (gorilla/websocket 不支持并发写)。
type connEntry struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConnEntry(ws *websocket.Conn, outboxSize int) *connEntry {
	return &connEntry{
		ws:      ws,
		outbox:  make(chan []byte, outboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *connEntry) writeMsg(data []byte) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// enqueue 非阻塞入队; 连接已关闭或 outbox 满时返回 false。
func (c *connEntry) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *connEntry) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *connEntry) writeLoop() error {
	for {
		select {
		case <-c.closeCh:
			return nil
		case msg := <-c.outbox:
			if err := c.writeMsg(msg); err != nil {
				return err
			}
		}
	}
}

// checkLocalOrigin 仅允许本机来源的 WebSocket 连接。
//
// 接受: 无 Origin header (本地工具), localhost, 127.0.0.1, [::1], Wails 内嵌 WebView。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
		"wails://",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("apiserver: rejected non-local origin", logger.FieldOrigin, origin)
	return false
}

// ========================================
// 连接注册
// ========================================

// accept 升级连接并登记, 启动写循环。失败时已写回 HTTP 错误。
func (s *Server) accept(c *gin.Context, endpoint string) (string, *connEntry, bool) {
	if s.connCount() >= s.cfg.WSMaxConns {
		c.String(http.StatusServiceUnavailable, "too many connections")
		logger.Warn("apiserver: connection rejected (max reached)", logger.FieldCount, s.cfg.WSMaxConns)
		return "", nil, false
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("apiserver: upgrade failed", logger.FieldError, err)
		return "", nil, false
	}
	ws.SetReadLimit(int64(s.cfg.MaxEventBytes))

	connID := fmt.Sprintf("%s-%d", endpoint, s.nextID.Add(1))
	entry := newConnEntry(ws, s.cfg.WSOutboxSize)
	s.mu.Lock()
	s.conns[connID] = entry
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WSConnected(endpoint, 1)
	}

	util.SafeGo(func() {
		if err := entry.writeLoop(); err != nil {
			logger.Warn("apiserver: write loop failed", logger.FieldConn, connID, logger.FieldError, err)
			s.disconnectConn(connID)
		}
	})
	logger.Info("apiserver: client connected", logger.FieldConn, connID, logger.FieldRemote, c.Request.RemoteAddr)
	return connID, entry, true
}

func (s *Server) release(connID, endpoint string) {
	s.disconnectConn(connID)
	if s.metrics != nil {
		s.metrics.WSConnected(endpoint, -1)
	}
	logger.Info("apiserver: client disconnected", logger.FieldConn, connID)
}

func (s *Server) disconnectConn(connID string) {
	s.mu.Lock()
	entry, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.mu.Unlock()
	if ok && entry != nil {
		entry.closeNow()
	}
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	snapshot := s.conns
	s.conns = make(map[string]*connEntry)
	s.mu.Unlock()
	for _, entry := range snapshot {
		entry.closeNow()
	}
}

func (s *Server) connCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// send 序列化并入队; outbox 满说明客户端跟不上, 直接断开。
func (s *Server) send(connID string, entry *connEntry, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("apiserver: marshal frame failed", logger.FieldConn, connID, logger.FieldError, err)
		return false
	}
	if entry.enqueue(data) {
		return true
	}
	logger.Warn("apiserver: client send queue overloaded, disconnecting", logger.FieldConn, connID)
	s.disconnectConn(connID)
	return false
}

// ========================================
// /ws/agent: 后端事件上行
// ========================================

// handleAgentWS 每条文本消息是一个后端事件, 按到达顺序逐条应用。
func (s *Server) handleAgentWS(c *gin.Context) {
	connID, entry, ok := s.accept(c, endpointAgent)
	if !ok {
		return
	}
	defer s.release(connID, endpointAgent)

	for {
		msgType, message, err := entry.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("apiserver: read error", logger.FieldConn, connID, logger.FieldError, err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.session.ProcessEvent(message)
	}
}

// ========================================
// /ws/view: 投影下行 + 控制上行
// ========================================

// viewCommand 视图上行控制消息。
type viewCommand struct {
	Type     string `json:"type"`
	Distance int    `json:"distance,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

type commandAck struct {
	Type  string `json:"type"`
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleViewWS(c *gin.Context) {
	connID, entry, ok := s.accept(c, endpointView)
	if !ok {
		return
	}
	defer s.release(connID, endpointView)

	views := s.bus.Subscribe(connID)
	s.reportSubscribers()
	defer func() {
		s.bus.Unsubscribe(connID)
		s.reportSubscribers()
	}()

	initial := s.session.CurrentTranscript()
	if !s.send(connID, entry, viewEnvelope{Type: "transcript", View: initial}) {
		return
	}
	cursor := &viewCursor{seq: initial.Seq}
	util.SafeGo(func() { s.forwardViews(connID, entry, views, cursor) })

	for {
		_, message, err := entry.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("apiserver: read error", logger.FieldConn, connID, logger.FieldError, err)
			}
			return
		}
		var cmd viewCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.send(connID, entry, commandAck{Type: "ack", Op: "parse", Error: err.Error()})
			continue
		}
		if !s.send(connID, entry, s.dispatchCommand(cmd)) {
			return
		}
	}
}

// forwardViews 将总线帧转发到连接, 直到连接或总线关闭。不比 cursor 新的帧被跳过。
func (s *Server) forwardViews(connID string, entry *connEntry, views <-chan transcript.View, cursor *viewCursor) {
	for {
		select {
		case <-entry.closeCh:
			return
		case view, ok := <-views:
			if !ok {
				s.disconnectConn(connID)
				return
			}
			if !cursor.advance(view) {
				continue
			}
			if !s.send(connID, entry, viewEnvelope{Type: "transcript", View: view}) {
				return
			}
		}
	}
}

func (s *Server) dispatchCommand(cmd viewCommand) commandAck {
	ack := commandAck{Type: "ack", Op: cmd.Type}
	switch cmd.Type {
	case "scroll":
		ack.State = string(s.session.ReportScroll(cmd.Distance))
		ack.OK = true
	case "interrupt":
		ack.OK = s.session.Interrupt()
	case "user_message":
		ack.OK = s.session.BeginUserTurn(cmd.Text)
	case "start_turn":
		ack.ID = s.session.StartTurn()
		ack.OK = ack.ID != ""
	case "artifact":
		ack.ID, ack.OK = s.session.AttachArtifact(cmd.URL, cmd.Kind)
	default:
		ack.Error = "unknown command"
	}
	return ack
}
