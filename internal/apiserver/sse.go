// sse.go: 投影的 SSE 推送。
package apiserver

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// handleStream 先推送当前投影, 之后每次渲染推送一帧。
func (s *Server) handleStream(c *gin.Context) {
	clientID := fmt.Sprintf("sse-%d", s.nextID.Add(1))
	ch := s.bus.Subscribe(clientID)
	s.reportSubscribers()
	defer func() {
		s.bus.Unsubscribe(clientID)
		s.reportSubscribers()
		logger.Info("apiserver: SSE client disconnected", logger.FieldSubscriber, clientID)
	}()
	logger.Info("apiserver: SSE client connected", logger.FieldSubscriber, clientID)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	initial := s.session.CurrentTranscript()
	cursor := &viewCursor{seq: initial.Seq}
	c.SSEvent("transcript", initial)
	c.Writer.Flush()

	keepalive := time.NewTimer(sseKeepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case view, ok := <-ch:
			if !ok {
				return false
			}
			if !cursor.advance(view) {
				return true
			}
			c.SSEvent("transcript", view)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(sseKeepalive)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(sseKeepalive)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) reportSubscribers() {
	if s.metrics != nil {
		s.metrics.SSESubscribers(s.bus.Len())
	}
}
